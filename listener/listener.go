// Package listener implements the service's C-STORE SCP: an
// interfaces.ServiceHandler that routes every accepted instance into the
// right spool slot and tells the Watcher about it. Association and DIMSE
// mechanics stay in server/pdu/dimse; this package only decides where an
// instance belongs on disk.
package listener

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/spool"
	"github.com/caio-sobreiro/dicomnet/types"
)

// ActivityFunc is invoked after a C-STORE is durably written to the spool,
// so the caller (normally watcher.Watcher.OnFileActivity) can debounce
// processing for the study.
type ActivityFunc func(key spool.StudyKey)

// Handler implements interfaces.ServiceHandler for C-ECHO and C-STORE. Any
// other DIMSE command that reaches it is answered with a failure status.
type Handler struct {
	Spool   *spool.Spool
	OnStore ActivityFunc
	Logger  *slog.Logger
}

// NewHandler builds a Handler. logger defaults to slog.Default() if nil.
func NewHandler(sp *spool.Spool, onStore ActivityFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Spool: sp, OnStore: onStore, Logger: logger}
}

// HandleDIMSE dispatches a parsed command to the appropriate DIMSE
// operation. Unrecognised commands return a DIMSE failure status rather
// than an error, so the association stays open for subsequent requests.
func (h *Handler) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	switch msg.CommandField {
	case types.CEchoRQ:
		return h.handleEcho(msg)
	case types.CStoreRQ:
		return h.handleStore(msg, data)
	default:
		resp := &types.Message{
			CommandField:              types.ResponseCommandFor(msg.CommandField),
			MessageIDBeingRespondedTo: msg.MessageID,
			Status:                    types.StatusFailure,
			CommandDataSetType:        0x0101,
		}
		return resp, nil, nil
	}
}

func (h *Handler) handleEcho(msg *types.Message) (*types.Message, []byte, error) {
	resp := &types.Message{
		CommandField:              types.CEchoRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		Status:                    types.StatusSuccess,
		CommandDataSetType:        0x0101,
	}
	return resp, nil, nil
}

// handleStore derives the study key from the dataset's StudyInstanceUID,
// rejects malformed identifiers outright (the malformed-identifier error
// class), routes the instance into DCM, Structure, or Addition by SOP
// class, and writes it atomically before reporting success so the Watcher
// is never told about a half-written file.
func (h *Handler) handleStore(msg *types.Message, data []byte) (*types.Message, []byte, error) {
	failure := func(status uint16) (*types.Message, []byte, error) {
		return &types.Message{
			CommandField:              types.CStoreRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
			Status:                    status,
			CommandDataSetType:        0x0101,
		}, nil, nil
	}

	dataset, err := dicom.ParseDatasetWithTransferSyntax(data, msg.TransferSyntaxUID)
	if err != nil {
		h.Logger.Warn("codec-error: failed to parse stored instance", "error", err)
		return failure(0xA900)
	}

	studyUID := dataset.GetString(dicom.TagStudyInstanceUID)
	key, err := spool.SafeKey(studyUID)
	if err != nil {
		h.Logger.Warn("malformed-identifier: rejecting C-STORE", "study_instance_uid", studyUID, "error", err)
		return failure(0xA900)
	}

	if err := h.Spool.Create(key); err != nil {
		h.Logger.Error("io-error: failed to create study directory", "study_key", key, "error", err)
		return failure(types.StatusFailure)
	}

	slot := slotFor(dataset.GetString(dicom.TagSOPClassUID), h.Logger)
	fileName := msg.AffectedSOPInstanceUID + ".dcm"

	part10, err := dicom.WritePart10(dicom.FileMeta{
		TransferSyntaxUID: msg.TransferSyntaxUID,
		SOPClassUID:       msg.AffectedSOPClassUID,
		SOPInstanceUID:    msg.AffectedSOPInstanceUID,
	}, dataset)
	if err != nil {
		h.Logger.Error("codec-error: failed to re-encode stored instance", "error", err)
		return failure(types.StatusFailure)
	}

	if err := spool.WriteAtomic(h.Spool.PathFor(key, slot), fileName, part10); err != nil {
		h.Logger.Error("io-error: failed to write stored instance", "study_key", key, "error", err)
		return failure(types.StatusFailure)
	}

	h.Logger.Info("stored instance", "study_key", key, "slot", slot, "sop_instance_uid", msg.AffectedSOPInstanceUID)

	if h.OnStore != nil {
		h.OnStore(key)
	}

	return failure(types.StatusSuccess)
}

// slotFor routes an instance to its spool subdirectory by SOP class:
// RT Structure Sets go to Structure, everything else storable
// (including any SOP class this handler doesn't specifically
// recognise) goes to DCM. Addition is never populated by the listener;
// it only ever holds what the pipeline itself produces.
func slotFor(sopClassUID string, logger *slog.Logger) spool.Slot {
	if sopClassUID == types.RTStructureSetStorage {
		return spool.SlotStructure
	}
	if !isImageSOPClass(sopClassUID) {
		logger.Info("routing unrecognised storage SOP class to DCM", "sop_class_uid", sopClassUID)
	}
	return spool.SlotDCM
}

func isImageSOPClass(uid string) bool {
	switch uid {
	case types.CTImageStorage, types.EnhancedCTImageStorage, types.LegacyConvertedEnhancedCTImageStorage,
		types.MRImageStorage, types.EnhancedMRImageStorage, types.PETImageStorage, types.EnhancedPETImageStorage,
		types.SecondaryCaptureImageStorage, types.RTImageStorage:
		return true
	}
	return false
}
