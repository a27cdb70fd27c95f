package anonymize

import (
	"testing"

	"github.com/caio-sobreiro/dicomnet/dicom"
)

func sampleDataset() *dicom.Dataset {
	d := dicom.NewDataset()
	d.AddElement(dicom.TagPatientName, dicom.VR_PN, "DOE^JANE")
	d.AddElement(dicom.TagPatientID, dicom.VR_LO, "MRN123")
	d.AddElement(dicom.TagAccessionNumber, dicom.VR_SH, "ACC987")
	d.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, "1.2.3.4")
	d.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, "1.2.3.5")
	d.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, "1.2.3.6")
	d.AddElement(dicom.Tag{Group: 0x0008, Element: 0x0020}, dicom.VR_DA, "20240315")
	d.AddElement(dicom.Tag{Group: 0x0008, Element: 0x0030}, dicom.VR_TM, "143000.000")
	return d
}

func TestAnonymizeDisabledIsNoop(t *testing.T) {
	d := sampleDataset()
	a := New(Config{Enabled: false})
	a.Anonymize(d)

	if d.GetString(dicom.TagPatientName) != "DOE^JANE" {
		t.Fatal("expected disabled anonymizer to leave the dataset untouched")
	}
}

func TestAnonymizePartialRemovesConfiguredTags(t *testing.T) {
	d := sampleDataset()
	a := New(Config{
		Enabled: true,
		Rules: Rules{
			RemoveTags: []string{"PatientID"},
		},
	})
	a.Anonymize(d)

	if _, ok := d.GetElement(dicom.TagPatientID); ok {
		t.Error("expected PatientID to be removed")
	}
	if d.GetString(dicom.TagAccessionNumber) != "" {
		t.Error("expected AccessionNumber to always be cleared")
	}
	if d.GetString(dicom.TagPatientName) != "DOE^JANE" {
		t.Error("expected PatientName to survive partial anonymization")
	}
}

func TestAnonymizeFullRegeneratesUIDsAndIdentity(t *testing.T) {
	d := sampleDataset()
	a := New(Config{Enabled: true, FullAnonymizationEnabled: true})
	a.Anonymize(d)

	if d.GetString(dicom.TagStudyInstanceUID) == "1.2.3.4" {
		t.Error("expected StudyInstanceUID to be regenerated")
	}
	if d.GetString(dicom.TagStudyInstanceUID)[:5] != "2.25." {
		t.Errorf("expected regenerated UID under the 2.25. root, got %s", d.GetString(dicom.TagStudyInstanceUID))
	}
	if d.GetString(dicom.Tag{Group: 0x0008, Element: 0x0020}) != "20240301" {
		t.Errorf("expected StudyDate to be zeroed to day 01, got %s", d.GetString(dicom.Tag{Group: 0x0008, Element: 0x0020}))
	}
	if d.GetString(dicom.Tag{Group: 0x0008, Element: 0x0030}) != "140000.000" {
		t.Errorf("expected StudyTime to be zeroed to the hour, got %s", d.GetString(dicom.Tag{Group: 0x0008, Element: 0x0030}))
	}
	name := d.GetString(dicom.TagPatientName)
	if name == "" || name == "DOE^JANE" {
		t.Fatalf("expected a synthesised anonymous PatientName, got %q", name)
	}
}

func TestAnonymizeUIDRegenerationIsDeterministic(t *testing.T) {
	first := generateUID("1.2.3.4")
	second := generateUID("1.2.3.4")
	if first != second {
		t.Fatal("expected generateUID to be deterministic for the same input")
	}
}
