package types

// QueryLevel represents the value of the QueryRetrieveLevel (0008,0052) attribute.
type QueryLevel string

const (
	QueryLevelPatient   QueryLevel = "PATIENT"
	QueryLevelStudy     QueryLevel = "STUDY"
	QueryLevelSeries    QueryLevel = "SERIES"
	QueryLevelInstances QueryLevel = "INSTANCES"
)

// QueryRequest represents a parsed C-FIND query
type QueryRequest struct {
	Level              QueryLevel
	PatientName        string
	PatientID          string
	PatientBirthDate   string
	PatientSex         string
	StudyInstanceUID   string
	StudyID            string
	StudyDate          string
	StudyTime          string
	StudyDescription   string
	Modality           string
	SeriesInstanceUID  string
	SeriesNumber       string
	SeriesDescription  string
	SOPInstanceUID     string
	InstanceNumber     string
	AccessionNumber    string
	ReferringPhysician string
}
