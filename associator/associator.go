// Package associator builds the proxy's outbound SCU associations to the
// upstream PACS, selecting the correct query/retrieve information model
// for the request's QueryRetrieveLevel and action, per the DIMSE model
// selection table.
package associator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/dicomshield/proxy/client"
	"github.com/dicomshield/proxy/config"
	"github.com/dicomshield/proxy/types"
)

// Action identifies which DIMSE retrieval verb the association is being
// built to carry.
type Action int

const (
	ActionFind Action = iota
	ActionMove
	ActionGet
)

// storageAbstractSyntaxes are offered on every association Associate
// opens (AssociateForStorage offers only its one class) so
// that C-GET sub-operations (and the rare SCP-initiated C-STORE) can be
// negotiated without a second round trip.
var storageAbstractSyntaxes = []string{
	types.CTImageStorage,
	types.EnhancedCTImageStorage,
	types.MRImageStorage,
	types.EnhancedMRImageStorage,
	types.XRayAngiographicImageStorage,
	types.EnhancedXAImageStorage,
	types.SecondaryCaptureImageStorage,
	types.UltrasoundImageStorage,
	types.NuclearMedicineImageStorage,
	types.PETImageStorage,
}

// queryRetrieveModels are the FIND/MOVE/GET model triples offered per
// root, so the selected model from SelectSOPClass is always among the
// set actually proposed in the association.
var queryRetrieveModels = []string{
	types.PatientRootQueryRetrieveInformationModelFind,
	types.PatientRootQueryRetrieveInformationModelMove,
	types.PatientRootQueryRetrieveInformationModelGet,
	types.StudyRootQueryRetrieveInformationModelFind,
	types.StudyRootQueryRetrieveInformationModelMove,
	types.StudyRootQueryRetrieveInformationModelGet,
}

// CallingAETitle is the fixed AE title the proxy presents as its own
// identity on every association it initiates: the upstream association,
// and the final SCU association opened directly to a client's declared
// C-MOVE destination. It is not configurable and must not be confused
// with INGRESS.AET, the site-configurable title clients dial to reach
// the proxy itself.
const CallingAETitle = "DICOMSHIELD"

// Associator builds upstream SCU associations on demand. Callers are
// responsible for releasing the returned association on every path.
type Associator struct {
	address        string
	callingAETitle string
	calledAETitle  string
	logger         *slog.Logger
}

// New builds an Associator targeting the configured upstream PACS.
// callingAETitle is this proxy's own AE title, used as the calling AE on
// every upstream association (fixed at "DICOMSHIELD" per spec §6).
func New(cfg config.UpstreamConfig, callingAETitle string, logger *slog.Logger) *Associator {
	calledAE := cfg.AET
	if calledAE == "" {
		calledAE = "ANY-SCP"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Associator{
		address:        net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port)),
		callingAETitle: callingAETitle,
		calledAETitle:  calledAE,
		logger:         logger,
	}
}

// SelectSOPClass implements the level x action model-selection table:
// PATIENT uses the Patient Root information model, everything else
// (STUDY, SERIES, INSTANCES) uses the Study Root information model.
func SelectSOPClass(level types.QueryLevel, action Action) (string, error) {
	switch action {
	case ActionFind:
		if level == types.QueryLevelPatient {
			return types.PatientRootQueryRetrieveInformationModelFind, nil
		}
		return types.StudyRootQueryRetrieveInformationModelFind, nil
	case ActionMove:
		if level == types.QueryLevelPatient {
			return types.PatientRootQueryRetrieveInformationModelMove, nil
		}
		return types.StudyRootQueryRetrieveInformationModelMove, nil
	case ActionGet:
		if level == types.QueryLevelPatient {
			return types.PatientRootQueryRetrieveInformationModelGet, nil
		}
		return types.StudyRootQueryRetrieveInformationModelGet, nil
	default:
		return "", fmt.Errorf("associator: unknown action %v", action)
	}
}

// Associate opens an SCU association to the upstream PACS, offering the
// selected model's SOP class, both query/retrieve roots (FIND/MOVE/GET),
// and the configured storage classes so sub-operation C-STOREs and
// C-GET deliveries can ride the same association. Returns the selected
// SOP class alongside the association so callers don't need to re-derive
// it.
func (a *Associator) Associate(ctx context.Context, level types.QueryLevel, action Action) (*client.Association, string, error) {
	if level == "" {
		return nil, "", fmt.Errorf("associator: QueryRetrieveLevel is required")
	}

	sopClass, err := SelectSOPClass(level, action)
	if err != nil {
		return nil, "", err
	}

	abstractSyntaxes := make([]string, 0, len(queryRetrieveModels)+len(storageAbstractSyntaxes)+1)
	abstractSyntaxes = append(abstractSyntaxes, sopClass)
	for _, model := range queryRetrieveModels {
		if model != sopClass {
			abstractSyntaxes = append(abstractSyntaxes, model)
		}
	}
	abstractSyntaxes = append(abstractSyntaxes, storageAbstractSyntaxes...)

	assoc, err := client.Connect(a.address, client.Config{
		CallingAETitle:   a.callingAETitle,
		CalledAETitle:    a.calledAETitle,
		Logger:           a.logger,
		ConnectTimeout:   30 * time.Second,
		AbstractSyntaxes: abstractSyntaxes,
	})
	if err != nil {
		return nil, "", fmt.Errorf("associator: associate to upstream %s failed: %w", a.address, err)
	}

	return assoc, sopClass, nil
}

// AssociateForStorage opens an SCU association offering only the given
// storage SOP class, used by the client-initiated C-STORE handler which
// has no query/retrieve model to negotiate.
func (a *Associator) AssociateForStorage(ctx context.Context, sopClassUID string) (*client.Association, error) {
	assoc, err := client.Connect(a.address, client.Config{
		CallingAETitle:   a.callingAETitle,
		CalledAETitle:    a.calledAETitle,
		Logger:           a.logger,
		ConnectTimeout:   30 * time.Second,
		AbstractSyntaxes: []string{sopClassUID},
	})
	if err != nil {
		return nil, fmt.Errorf("associator: associate to upstream %s for storage failed: %w", a.address, err)
	}
	return assoc, nil
}
