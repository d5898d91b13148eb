// Package shield implements the proxy's anonymize/pseudonymize pipeline:
// the pass every dataset crossing the proxy goes through so the client
// only ever observes pseudonyms while the upstream PACS continues to see
// real identifiers.
package shield

import (
	"context"
	"fmt"

	"github.com/dicomshield/proxy/dicom"
	"github.com/dicomshield/proxy/pseudonym"
)

// missingMappingSentinel is written into a pseudonymizable attribute
// whose value the pseudonym service did not return a mapping for, so a
// failed lookup is visible to callers rather than silently forwarding
// the real identifier.
const missingMappingSentinel = "None"

// Shield runs the clearing and pseudonym-rewriting pass appropriate to
// the direction a dataset is traveling.
type Shield struct {
	client pseudonym.Client
}

// New builds a Shield backed by the given pseudonymization client.
func New(client pseudonym.Client) *Shield {
	return &Shield{client: client}
}

// ShieldQuery shields an identifier traveling from the client toward the
// upstream PACS: identifying attributes are cleared and pseudonymizable
// attributes already known to the client are depseudonymized back to the
// values the upstream archive understands.
func (s *Shield) ShieldQuery(ctx context.Context, ds *dicom.Dataset) (*dicom.Dataset, error) {
	clearIdentifyingAttributes(ds)
	if err := s.rewrite(ctx, ds, s.client.Depseudonymize); err != nil {
		return nil, err
	}
	ds.Anonymized = true
	return ds, nil
}

// ShieldRetrieve shields a dataset traveling from the upstream PACS back
// toward the client: identifying attributes are cleared and
// pseudonymizable attributes are replaced with pseudonyms so the client
// never observes a real identifier.
func (s *Shield) ShieldRetrieve(ctx context.Context, ds *dicom.Dataset) (*dicom.Dataset, error) {
	clearIdentifyingAttributes(ds)
	if err := s.rewrite(ctx, ds, func(ctx context.Context, values []string) (map[string]string, error) {
		return s.client.Pseudonymize(ctx, values, true)
	}); err != nil {
		return nil, err
	}
	ds.Anonymized = true
	return ds, nil
}

// ShieldStore is the identity transform for client-initiated C-STORE.
// Whether client-originated data should itself be shielded is an open
// question left to the domain owner; see DESIGN.md.
func (s *Shield) ShieldStore(ctx context.Context, ds *dicom.Dataset) (*dicom.Dataset, error) {
	return ds, nil
}

func clearIdentifyingAttributes(ds *dicom.Dataset) {
	for _, tag := range identifyingTags {
		if _, present := ds.GetElement(tag); present {
			ds.AddElement(tag, tagVR(tag), "")
		}
	}
}

// rewrite batches every present, non-empty pseudonymizable attribute
// into a single call to lookup, then overwrites each attribute with its
// mapped value (or the missing-mapping sentinel if the service did not
// return one). Empty values are left untouched - in DIMSE queries an
// empty value is a wildcard, not an identifier to translate.
func (s *Shield) rewrite(ctx context.Context, ds *dicom.Dataset, lookup func(context.Context, []string) (map[string]string, error)) error {
	present := make([]dicom.Tag, 0, len(pseudonymizableTags))
	values := make([]string, 0, len(pseudonymizableTags))

	for _, tag := range pseudonymizableTags {
		value := ds.GetString(tag)
		if value == "" {
			continue
		}
		present = append(present, tag)
		values = append(values, value)
	}

	if len(values) == 0 {
		return nil
	}

	mapping, err := lookup(ctx, values)
	if err != nil {
		return fmt.Errorf("shield: pseudonym lookup failed: %w", err)
	}

	for i, tag := range present {
		mapped, ok := mapping[values[i]]
		if !ok {
			mapped = missingMappingSentinel
		}
		ds.AddElement(tag, tagVR(tag), mapped)
	}
	return nil
}
