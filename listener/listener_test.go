package listener

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/spool"
	"github.com/caio-sobreiro/dicomnet/types"
)

func newTestSpool(t *testing.T) *spool.Spool {
	t.Helper()
	sp, err := spool.New(t.TempDir(), "quarantine")
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	return sp
}

func storeCommand(studyUID, sopClassUID, sopInstanceUID string, messageID uint16) (*types.Message, []byte) {
	dataset := dicom.NewDataset()
	dataset.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, studyUID)
	dataset.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, sopClassUID)
	dataset.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, sopInstanceUID)
	dataset.AddElement(dicom.TagRows, dicom.VR_US, uint16(4))
	dataset.AddElement(dicom.TagColumns, dicom.VR_US, uint16(4))

	encoded := dataset.EncodeDataset()

	msg := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              messageID,
		AffectedSOPClassUID:    sopClassUID,
		AffectedSOPInstanceUID: sopInstanceUID,
		TransferSyntaxUID:      types.ExplicitVRLittleEndian,
	}
	return msg, encoded
}

func TestHandleStoreRoutesImageToDCM(t *testing.T) {
	sp := newTestSpool(t)
	var notified spool.StudyKey
	h := NewHandler(sp, func(key spool.StudyKey) { notified = key }, nil)

	msg, data := storeCommand("1.2.3.study", types.CTImageStorage, "1.2.3.instance", 1)
	resp, _, err := h.HandleDIMSE(context.Background(), msg, data)
	if err != nil {
		t.Fatalf("HandleDIMSE returned error: %v", err)
	}
	if resp.Status != types.StatusSuccess {
		t.Fatalf("expected success status, got 0x%04X", resp.Status)
	}

	key, _ := spool.SafeKey("1.2.3.study")
	if notified != key {
		t.Fatalf("expected OnStore to fire for %v, got %v", key, notified)
	}

	path := filepath.Join(sp.PathFor(key, spool.SlotDCM), "1.2.3.instance.dcm")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected stored file at %s: %v", path, err)
	}
}

func TestHandleStoreRoutesStructureSet(t *testing.T) {
	sp := newTestSpool(t)
	h := NewHandler(sp, nil, nil)

	msg, data := storeCommand("1.2.3.study2", types.RTStructureSetStorage, "1.2.3.rtstruct", 1)
	if _, _, err := h.HandleDIMSE(context.Background(), msg, data); err != nil {
		t.Fatalf("HandleDIMSE returned error: %v", err)
	}

	key, _ := spool.SafeKey("1.2.3.study2")
	path := filepath.Join(sp.PathFor(key, spool.SlotStructure), "1.2.3.rtstruct.dcm")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected structure set file at %s: %v", path, err)
	}
}

func TestHandleStoreRejectsMalformedStudyUID(t *testing.T) {
	sp := newTestSpool(t)
	h := NewHandler(sp, nil, nil)

	msg, data := storeCommand("../evil", types.CTImageStorage, "1.2.3.instance", 1)
	resp, _, err := h.HandleDIMSE(context.Background(), msg, data)
	if err != nil {
		t.Fatalf("HandleDIMSE returned error: %v", err)
	}
	if resp.Status == types.StatusSuccess {
		t.Fatal("expected a failure status for a malformed study identifier")
	}
}

func TestHandleEchoReturnsSuccess(t *testing.T) {
	sp := newTestSpool(t)
	h := NewHandler(sp, nil, nil)

	msg := &types.Message{CommandField: types.CEchoRQ, MessageID: 1, AffectedSOPClassUID: types.VerificationSOPClass}
	resp, _, err := h.HandleDIMSE(context.Background(), msg, nil)
	if err != nil {
		t.Fatalf("HandleDIMSE returned error: %v", err)
	}
	if resp.Status != types.StatusSuccess {
		t.Fatalf("expected success status, got 0x%04X", resp.Status)
	}
}
