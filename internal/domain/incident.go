package domain

import "time"

// IncidentKey is the composite NFIRS key shared by all three raw tables. Values are the
// raw strings as read, before any padding.
type IncidentKey struct {
	State   string
	FDID    string
	IncDate string
	IncNo   string
	ExpNo   string
}

// BasicRow is one row of basicincident.txt.
type BasicRow struct {
	Key      IncidentKey
	DeptSta  string
	IncType  string
	Aid      string
	PropUse  string
	OthInj   string
	OthDeath string
	PropLoss string
	ContLoss string
}

// AddressRow is one row of incidentaddress.txt.
type AddressRow struct {
	Key        IncidentKey
	NumMile    string
	StreetPre  string
	StreetName string
	StreetType string
	StreetSuf  string
	AptNo      string
	City       string
	StateID    string
	Zip5       string
	XStreet    string
}

// FireRow is one row of fireincident.txt.
type FireRow struct {
	Key       IncidentKey
	Detector  string
	DetType   string
	DetPower  string
	DetOperat string
	DetEffect string
	DetFail   string
	AesPres   string
	AesType   string
	AesOper   string
	NoSprOp   string
	AesFail   string
}

// RawYear holds the three raw tables of one NFIRS year.
type RawYear struct {
	Basic   []BasicRow
	Address []AddressRow
	Fire    []FireRow
}

// Fire merge provenance, mirroring a left join indicator.
const (
	FireMergeBoth     = "both"
	FireMergeLeftOnly = "left_only"
)

// Incident is one consolidated fire incident exposure. Empty strings are missing values.
type Incident struct {
	State    string
	FDID     string
	StFDID   string
	DeptSta  string
	IncDate  time.Time
	IncNo    string
	ExpNo    string
	IncType  string
	PropUse  string
	Aid      string
	Address  string
	AptNo    string
	XStreet  string
	City     string
	StateID  string
	Zip5     string
	OthInj   float64
	OthDeath float64
	PropLoss float64
	ContLoss float64
	TotLoss  float64

	Detector  string
	DetType   string
	DetPower  string
	DetOperat string
	DetEffect string
	DetFail   string
	AesPres   string
	AesType   string
	AesOper   string
	NoSprOp   string
	AesFail   string

	UniqueID string

	// FireMerge records whether a fireincident row joined. Not persisted.
	FireMerge string
}

// CleanedIncident is the representative record of a rollup group.
type CleanedIncident struct {
	Incident

	NumRecords    int // group size
	AptCount      int // distinct non-missing apartment numbers
	DeptCount     int // distinct state/fire department ids
	ExposureCount int // distinct exposure numbers
}

// DateLayout is the calendar date format used in ids, grouping keys and datasets.
const DateLayout = "2006-01-02"
