package shield

import "github.com/dicomshield/proxy/dicom"

// identifyingTags are cleared to the empty string by ShieldQuery and
// ShieldRetrieve alike, regardless of direction; ShieldStore leaves them
// untouched. Values are standard DICOM PS3.6 tags.
var identifyingTags = []dicom.Tag{
	{Group: 0x0010, Element: 0x0010}, // PatientName
	{Group: 0x0010, Element: 0x0021}, // IssuerOfPatientID
	{Group: 0x0010, Element: 0x0030}, // PatientBirthDate
	{Group: 0x0010, Element: 0x0040}, // PatientSex
	{Group: 0x0010, Element: 0x1040}, // PatientAddress
	{Group: 0x0010, Element: 0x2154}, // PatientTelephoneNumbers
	{Group: 0x0008, Element: 0x0050}, // AccessionNumber
	{Group: 0x0008, Element: 0x0080}, // InstitutionName
	{Group: 0x0008, Element: 0x0081}, // InstitutionAddress
	{Group: 0x0008, Element: 0x0082}, // InstitutionCodeSequence
	{Group: 0x0008, Element: 0x0090}, // ReferringPhysicianName
	{Group: 0x0008, Element: 0x0094}, // ReferringPhysicianTelephoneNumbers
}

// pseudonymizableTags are rewritten in both directions through the
// pseudonymization service, keyed by their own current value.
var pseudonymizableTags = []dicom.Tag{
	{Group: 0x0010, Element: 0x0020}, // PatientID
	{Group: 0x0020, Element: 0x0010}, // StudyID
	{Group: 0x0008, Element: 0x0018}, // SOPInstanceUID
	{Group: 0x0020, Element: 0x000D}, // StudyInstanceUID
	{Group: 0x0020, Element: 0x000E}, // SeriesInstanceUID
}

// tagVR returns the VR a cleared/rewritten tag should carry. Everything
// this package touches is a short string-like VR; pseudonymizable
// identifiers are UI or the matching short-string VR for StudyID/PatientID.
func tagVR(tag dicom.Tag) string {
	switch tag {
	case dicom.Tag{Group: 0x0008, Element: 0x0018}, // SOPInstanceUID
		dicom.Tag{Group: 0x0020, Element: 0x000D}, // StudyInstanceUID
		dicom.Tag{Group: 0x0020, Element: 0x000E}: // SeriesInstanceUID
		return dicom.VR_UI
	case dicom.Tag{Group: 0x0010, Element: 0x0010}: // PatientName
		return dicom.VR_PN
	case dicom.Tag{Group: 0x0010, Element: 0x0030}: // PatientBirthDate
		return dicom.VR_DA
	case dicom.Tag{Group: 0x0010, Element: 0x0040}: // PatientSex
		return dicom.VR_CS
	case dicom.Tag{Group: 0x0008, Element: 0x0090}: // ReferringPhysicianName
		return dicom.VR_PN
	case dicom.Tag{Group: 0x0020, Element: 0x0010}: // StudyID
		return dicom.VR_SH
	case dicom.Tag{Group: 0x0010, Element: 0x0020}: // PatientID
		return dicom.VR_LO
	default:
		return dicom.VR_LO
	}
}
