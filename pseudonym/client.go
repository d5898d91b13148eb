// Package pseudonym implements the FHIR Parameters-resource wire protocol
// used to talk to an external pseudonymization service (gPAS or the MII
// "Datenschutzdienste" pseudonymization module).
//
// Neither service's own implementation is in scope here: this package only
// speaks the client side of the $pseudonymize / $de-pseudonymize operations
// over plain HTTP, using the application/fhir+xml content type both
// services expect.
package pseudonym

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const fhirNamespace = "http://hl7.org/fhir"
const contentType = "application/fhir+xml"

// Client resolves original values to pseudonyms and back against a
// domain-scoped FHIR pseudonymization service.
type Client interface {
	// Pseudonymize maps each original value to its pseudonym, creating one
	// if allowCreate is true and none exists yet. A value with no mapping
	// is absent from the returned map.
	Pseudonymize(ctx context.Context, values []string, allowCreate bool) (map[string]string, error)

	// Depseudonymize maps each pseudonym back to its original value. A
	// pseudonym with no mapping is absent from the returned map.
	Depseudonymize(ctx context.Context, values []string) (map[string]string, error)

	// TestConnection probes the service's FHIR capability statement
	// endpoint, used as a boot-time health check.
	TestConnection(ctx context.Context) error
}

// Config configures an FHIR pseudonymization client.
type Config struct {
	ClientType  string // "gPAS" or "MII"
	EndpointURL string
	Domain      string
	User        string
	Password    string
	HTTPClient  *http.Client
}

// New builds the FHIR client named by cfg.ClientType.
func New(cfg Config) (Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	base := baseClient{
		endpointURL: strings.TrimRight(cfg.EndpointURL, "/"),
		domain:      cfg.Domain,
		httpClient:  httpClient,
	}
	if cfg.User != "" {
		base.auth = &basicAuth{user: cfg.User, password: cfg.Password}
	}

	switch cfg.ClientType {
	case "gPAS":
		return &gPASClient{baseClient: base}, nil
	case "MII":
		return &miiClient{baseClient: base}, nil
	default:
		return nil, fmt.Errorf("pseudonym: unknown client type %q (want gPAS or MII)", cfg.ClientType)
	}
}

type basicAuth struct {
	user     string
	password string
}

type baseClient struct {
	endpointURL string
	domain      string
	httpClient  *http.Client
	auth        *basicAuth
}

func (c *baseClient) post(ctx context.Context, operation string, body []byte) (*fhirParameters, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL+"/"+operation, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("pseudonym: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	if c.auth != nil {
		req.SetBasicAuth(c.auth.user, c.auth.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pseudonym: request to %s failed: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pseudonym: %s returned status %d", operation, resp.StatusCode)
	}

	var result fhirParameters
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("pseudonym: decode response from %s: %w", operation, err)
	}

	return &result, nil
}

// TestConnection hits the FHIR capability statement endpoint as a
// connectivity and authentication health check.
func (c *baseClient) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL+"/metadata", nil)
	if err != nil {
		return fmt.Errorf("pseudonym: build metadata request: %w", err)
	}
	req.Header.Set("Accept", contentType)
	if c.auth != nil {
		req.SetBasicAuth(c.auth.user, c.auth.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pseudonym: metadata probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pseudonym: metadata probe returned status %d", resp.StatusCode)
	}
	return nil
}

// mapResponse extracts (original, pseudonym) pairs from a FHIR Parameters
// response. Each "parameter" part carries a name/value pair; a translation
// is one parameter containing both an "original" and a "pseudonym" part.
//
// The request side sends values as valueString; the service's response
// comes back with the pseudonym identifier typed as valueIdentifier - an
// asymmetry inherent to the FHIR operation definitions, not a bug.
func mapResponse(resp *fhirParameters, keyName, valueName string) map[string]string {
	out := make(map[string]string)
	for _, param := range resp.Parameters {
		var key, value string
		var haveKey, haveValue bool
		for _, part := range param.Parts {
			switch part.Name.Value {
			case keyName:
				key = part.StringValue()
				haveKey = key != ""
			case valueName:
				value = part.StringValue()
				haveValue = value != ""
			}
		}
		if haveKey && haveValue {
			out[key] = value
		}
	}
	return out
}

// fhirParameters is the minimal subset of the FHIR Parameters resource this
// client needs to marshal requests and unmarshal responses.
type fhirParameters struct {
	XMLName    xml.Name    `xml:"Parameters"`
	ID         *fhirValue  `xml:"id"`
	Parameters []fhirParam `xml:"parameter"`
}

type fhirValue struct {
	Value string `xml:"value,attr"`
}

type fhirParam struct {
	Name  string      `xml:"name,attr"`
	Value *fhirValue  `xml:"valueString"`
	Ident *fhirValue  `xml:"valueIdentifier>value"`
	Bool  *fhirValue  `xml:"valueBoolean"`
	Parts []fhirPart  `xml:"part"`
}

type fhirPart struct {
	Name            fhirValue  `xml:"name"`
	ValueString     *fhirValue `xml:"valueString"`
	ValueIdentifier *fhirValue `xml:"valueIdentifier>value"`
}

// StringValue returns whichever typed value is present on the part,
// matching the request/response asymmetry documented on mapResponse.
func (p fhirPart) StringValue() string {
	if p.ValueIdentifier != nil {
		return p.ValueIdentifier.Value
	}
	if p.ValueString != nil {
		return p.ValueString.Value
	}
	return ""
}

// buildRequestXML builds the FHIR Parameters request body. paramName
// names the per-value parameter: pseudonymize requests carry "original"
// values (the caller wants pseudonyms back for them), depseudonymize
// requests carry "pseudonym" values (the caller wants originals back) —
// the two directions are not interchangeable on the wire.
func buildRequestXML(operationID, domain string, allowCreate *bool, paramName string, values []string) []byte {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(`<Parameters xmlns="%s">`, fhirNamespace))
	b.WriteString(fmt.Sprintf(`<id value="%s" />`, operationID))
	b.WriteString(`<parameter><name value="target" /><valueString value="`)
	b.WriteString(xmlEscape(domain))
	b.WriteString(`" /></parameter>`)

	if allowCreate != nil {
		b.WriteString(`<parameter><name value="allowCreate" /><valueBoolean value="`)
		if *allowCreate {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		b.WriteString(`" /></parameter>`)
	}

	for _, v := range values {
		b.WriteString(`<parameter><name value="`)
		b.WriteString(paramName)
		b.WriteString(`" /><valueString value="`)
		b.WriteString(xmlEscape(v))
		b.WriteString(`" /></parameter>`)
	}

	b.WriteString(`</Parameters>`)
	return []byte(b.String())
}

func xmlEscape(s string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
