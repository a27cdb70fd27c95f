// Package anonymize rewrites identifying attributes on a dataset before
// the derived series leaves the edge device, grounded on the same
// remove/blank tag-table approach and full-anonymization special casing
// the original anonymizer used.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/caio-sobreiro/dicomnet/dicom"
)

// Rules mirrors the config schema's anonymization.rules block.
type Rules struct {
	RemoveTags             []string
	BlankTags              []string
	GenerateRandomIDPrefix string
}

// Config mirrors the config schema's anonymization block.
type Config struct {
	Enabled                  bool
	FullAnonymizationEnabled bool
	Rules                    Rules
}

// tagByName resolves the limited set of attribute names the anonymizer
// rules and full-anonymization table reference to their DICOM tags.
var tagByName = map[string]dicom.Tag{
	"PatientName":             {Group: 0x0010, Element: 0x0010},
	"PatientID":               {Group: 0x0010, Element: 0x0020},
	"PatientBirthDate":        {Group: 0x0010, Element: 0x0030},
	"PatientSex":              {Group: 0x0010, Element: 0x0040},
	"PatientAge":              {Group: 0x0010, Element: 0x1010},
	"PatientWeight":           {Group: 0x0010, Element: 0x1030},
	"PatientAddress":          {Group: 0x0010, Element: 0x1040},
	"PatientTelephoneNumbers": {Group: 0x0010, Element: 0x2154},
	"OtherPatientIDs":         {Group: 0x0010, Element: 0x1000},
	"OtherPatientNames":       {Group: 0x0010, Element: 0x1001},
	"PatientSize":             {Group: 0x0010, Element: 0x1020},
	"EthnicGroup":             {Group: 0x0010, Element: 0x2160},
	"PatientComments":         {Group: 0x0010, Element: 0x4000},
	"DeviceSerialNumber":      {Group: 0x0018, Element: 0x1000},
	"InstitutionName":         {Group: 0x0008, Element: 0x0080},
	"InstitutionAddress":      {Group: 0x0008, Element: 0x0081},
	"ReferringPhysicianName":  {Group: 0x0008, Element: 0x0090},
	"OperatorsName":           {Group: 0x0008, Element: 0x1070},
	"AccessionNumber":         dicom.TagAccessionNumber,
	"StudyID":                 {Group: 0x0020, Element: 0x0010},
	"PerformingPhysicianName": {Group: 0x0008, Element: 0x1050},
	"RequestingPhysician":     {Group: 0x0032, Element: 0x1032},
	"StudyDate":               {Group: 0x0008, Element: 0x0020},
	"SeriesDate":              {Group: 0x0008, Element: 0x0021},
	"AcquisitionDate":         {Group: 0x0008, Element: 0x0022},
	"ContentDate":             {Group: 0x0008, Element: 0x0023},
	"StudyTime":               {Group: 0x0008, Element: 0x0030},
	"SeriesTime":              {Group: 0x0008, Element: 0x0031},
	"AcquisitionTime":         {Group: 0x0008, Element: 0x0032},
	"ContentTime":             {Group: 0x0008, Element: 0x0033},
	"StudyInstanceUID":        dicom.TagStudyInstanceUID,
	"SeriesInstanceUID":       dicom.TagSeriesInstanceUID,
	"SOPInstanceUID":          dicom.TagSOPInstanceUID,
}

var fullRemoveTags = []string{
	"PatientName", "PatientID", "PatientBirthDate", "PatientSex", "PatientAge",
	"PatientWeight", "PatientAddress", "PatientTelephoneNumbers", "OtherPatientIDs",
	"OtherPatientNames", "PatientSize", "EthnicGroup", "PatientComments",
	"DeviceSerialNumber", "InstitutionName", "InstitutionAddress",
	"ReferringPhysicianName", "OperatorsName",
}

var fullBlankTags = []string{"AccessionNumber", "StudyID", "PerformingPhysicianName", "RequestingPhysician"}

var dateTags = []string{"StudyDate", "SeriesDate", "AcquisitionDate", "ContentDate"}
var timeTags = []string{"StudyTime", "SeriesTime", "AcquisitionTime", "ContentTime"}

// Anonymizer rewrites datasets according to Config, the same way every
// other call site of the tag table does: resolve the effective remove and
// blank lists once at construction, then apply them to every dataset
// passed to Anonymize.
type Anonymizer struct {
	cfg        Config
	removeTags []string
	blankTags  []string
}

// New resolves the effective tag lists for cfg: the full-anonymization
// table when enabled, otherwise cfg.Rules verbatim, with AccessionNumber
// always included in one list or the other.
func New(cfg Config) *Anonymizer {
	a := &Anonymizer{cfg: cfg}
	if cfg.FullAnonymizationEnabled {
		a.removeTags = append([]string{}, fullRemoveTags...)
		a.blankTags = append([]string{}, fullBlankTags...)
	} else {
		a.removeTags = append([]string{}, cfg.Rules.RemoveTags...)
		a.blankTags = append([]string{}, cfg.Rules.BlankTags...)
	}

	if !contains(a.removeTags, "AccessionNumber") && !contains(a.blankTags, "AccessionNumber") {
		a.removeTags = append(a.removeTags, "AccessionNumber")
	}
	return a
}

// Anonymize rewrites dataset in place according to the anonymizer's
// resolved tag lists, and — when full anonymization is enabled — also
// regenerates StudyInstanceUID/SeriesInstanceUID/SOPInstanceUID and
// synthesises a fresh PatientName/PatientID pair.
func (a *Anonymizer) Anonymize(dataset *dicom.Dataset) {
	if !a.cfg.Enabled {
		return
	}

	for _, name := range a.removeTags {
		if tag, ok := tagByName[name]; ok {
			delete(dataset.Elements, tag)
		}
	}
	for _, name := range a.blankTags {
		if tag, ok := tagByName[name]; ok {
			if _, present := dataset.GetElement(tag); present {
				dataset.AddElement(tag, elementVR(dataset, tag), "")
			}
		}
	}

	if !a.cfg.FullAnonymizationEnabled {
		return
	}

	for _, name := range dateTags {
		rewriteIfPresent(dataset, tagByName[name], handleDate)
	}
	for _, name := range timeTags {
		rewriteIfPresent(dataset, tagByName[name], handleTime)
	}

	for _, name := range []string{"StudyInstanceUID", "SeriesInstanceUID", "SOPInstanceUID"} {
		tag := tagByName[name]
		if current := dataset.GetString(tag); current != "" {
			dataset.AddElement(tag, dicom.VR_UI, generateUID(current))
		}
	}

	if contains(a.removeTags, "PatientName") {
		id := generatePatientID(dataset)
		dataset.AddElement(tagByName["PatientName"], dicom.VR_PN, a.cfg.Rules.GenerateRandomIDPrefix+"ANONYMOUS_"+id)
		dataset.AddElement(tagByName["PatientID"], dicom.VR_LO, id)
	}
}

func elementVR(dataset *dicom.Dataset, tag dicom.Tag) string {
	if element, ok := dataset.GetElement(tag); ok {
		return element.VR
	}
	return dicom.VR_LO
}

func rewriteIfPresent(dataset *dicom.Dataset, tag dicom.Tag, fn func(string) string) {
	element, ok := dataset.GetElement(tag)
	if !ok {
		return
	}
	current, _ := element.Value.(string)
	dataset.AddElement(tag, element.VR, fn(current))
}

func handleDate(raw string) string {
	if len(raw) < 6 {
		return ""
	}
	return raw[:6] + "01"
}

func handleTime(raw string) string {
	if len(raw) < 2 {
		return ""
	}
	return raw[:2] + "0000.000"
}

// generateUID hashes the original UID into a deterministic replacement
// under the locally-assigned 2.25. root, so repeated anonymization of the
// same instance always yields the same new UID.
func generateUID(original string) string {
	sum := sha256.Sum256([]byte(original))
	hexDigest := hex.EncodeToString(sum[:])
	n := new(big.Int)
	n.SetString(hexDigest[:16], 16)
	return "2.25." + n.String()
}

func generatePatientID(dataset *dicom.Dataset) string {
	seed := dataset.GetString(dicom.TagStudyInstanceUID) + dataset.GetString(dicom.TagSOPInstanceUID)
	sum := sha256.Sum256([]byte(seed))
	return strings.ToUpper(hex.EncodeToString(sum[:4]))
}

func contains(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
