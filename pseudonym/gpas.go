package pseudonym

import "context"

// gPASClient speaks the gPAS pseudonymization service's FHIR operations,
// where allowCreate is baked into the operation name itself rather than
// passed as a separate parameter.
type gPASClient struct {
	baseClient
}

func (c *gPASClient) Pseudonymize(ctx context.Context, values []string, allowCreate bool) (map[string]string, error) {
	operation := "$pseudonymize"
	if allowCreate {
		operation = "$pseudonymizeAllowCreate"
	}

	body := buildRequestXML("Pseudonymization-DicomShield", c.domain, nil, "original", values)
	resp, err := c.post(ctx, operation, body)
	if err != nil {
		return nil, err
	}
	return mapResponse(resp, "original", "pseudonym"), nil
}

func (c *gPASClient) Depseudonymize(ctx context.Context, values []string) (map[string]string, error) {
	body := buildRequestXML("Pseudonymization-DicomShield", c.domain, nil, "pseudonym", values)
	resp, err := c.post(ctx, "$dePseudonymize", body)
	if err != nil {
		return nil, err
	}
	return mapResponse(resp, "pseudonym", "original"), nil
}
