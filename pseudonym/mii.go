package pseudonym

import "context"

// miiClient speaks the MII (Medizininformatik-Initiative) Datenschutzdienste
// pseudonymization module's FHIR operations, where allowCreate is a separate
// request parameter rather than part of the operation name.
type miiClient struct {
	baseClient
}

func (c *miiClient) Pseudonymize(ctx context.Context, values []string, allowCreate bool) (map[string]string, error) {
	body := buildRequestXML("Pseudonymization-DicomShield", c.domain, &allowCreate, "original", values)
	resp, err := c.post(ctx, "$pseudonymize", body)
	if err != nil {
		return nil, err
	}
	return mapResponse(resp, "original", "pseudonym"), nil
}

func (c *miiClient) Depseudonymize(ctx context.Context, values []string) (map[string]string, error) {
	body := buildRequestXML("Pseudonymization-DicomShield", c.domain, nil, "pseudonym", values)
	resp, err := c.post(ctx, "$de-pseudonymize", body)
	if err != nil {
		return nil, err
	}
	return mapResponse(resp, "pseudonym", "original"), nil
}
