package domain

import (
	"strconv"
	"strings"
	"time"
)

var (
	// homeFireIncTypes are the structure fire incident types kept for analysis.
	homeFireIncTypes = map[int]struct{}{
		111: {}, 113: {}, 114: {}, 115: {}, 116: {}, 117: {},
		118: {}, 119: {}, 120: {}, 121: {}, 122: {},
	}

	// invalidZips are placeholder zip codes entered when the real zip is unknown.
	invalidZips = map[string]struct{}{
		"00000": {}, "11111": {}, "22222": {}, "99999": {},
	}
)

// residentialPropUsePrefix selects residential property-use codes (4xx).
const residentialPropUsePrefix = "4"

// DroppedDuplicates counts raw rows removed for repeating a merge key.
type DroppedDuplicates struct {
	Basic   int
	Address int
	Fire    int
}

// ConsolidateResult is the output of Consolidate.
type ConsolidateResult struct {
	Incidents []Incident
	Dropped   DroppedDuplicates
}

// Consolidate merges the three raw tables of one year into home-fire incidents.
//
// Duplicate merge keys are dropped per table (first row wins). Basic rows are filtered to
// home fires, inner-joined to addresses and left-joined to fire details, then normalized.
// An unparseable incident date aborts the whole year.
func Consolidate(raw RawYear) (ConsolidateResult, error) {
	var res ConsolidateResult

	basic, dropped := dedupeByKey(raw.Basic, func(r BasicRow) IncidentKey { return r.Key })
	res.Dropped.Basic = dropped
	addresses, dropped := dedupeByKey(raw.Address, func(r AddressRow) IncidentKey { return r.Key })
	res.Dropped.Address = dropped
	fires, dropped := dedupeByKey(raw.Fire, func(r FireRow) IncidentKey { return r.Key })
	res.Dropped.Fire = dropped

	addrByKey := make(map[IncidentKey]AddressRow, len(addresses))
	for _, a := range addresses {
		addrByKey[a.Key] = a
	}
	fireByKey := make(map[IncidentKey]FireRow, len(fires))
	for _, f := range fires {
		fireByKey[f.Key] = f
	}

	for _, b := range basic {
		if !isHomeFire(b) {
			continue
		}
		a, ok := addrByKey[b.Key]
		if !ok {
			continue
		}
		f, hasFire := fireByKey[b.Key]

		inc, err := buildIncident(b, a, f, hasFire)
		if err != nil {
			return ConsolidateResult{}, err
		}
		res.Incidents = append(res.Incidents, inc)
	}
	return res, nil
}

func dedupeByKey[T any](rows []T, key func(T) IncidentKey) ([]T, int) {
	seen := make(map[IncidentKey]struct{}, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, len(rows) - len(out)
}

func isHomeFire(b BasicRow) bool {
	code, err := strconv.Atoi(strings.TrimSpace(b.IncType))
	if err != nil {
		return false
	}
	if _, ok := homeFireIncTypes[code]; !ok {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(b.PropUse), residentialPropUsePrefix)
}

func buildIncident(b BasicRow, a AddressRow, f FireRow, hasFire bool) (Incident, error) {
	date, err := ParseIncidentDate(b.Key.IncDate)
	if err != nil {
		return Incident{}, &InvalidDateError{Key: b.Key, Value: b.Key.IncDate, Err: err}
	}

	inc := Incident{
		State:   strings.TrimSpace(b.Key.State),
		FDID:    zeroPad(b.Key.FDID, 5),
		DeptSta: zeroPad(b.DeptSta, 3),
		IncDate: date,
		IncNo:   zeroPad(b.Key.IncNo, 7),
		ExpNo:   zeroPad(b.Key.ExpNo, 3),
		IncType: strings.TrimSpace(b.IncType),
		PropUse: strings.TrimSpace(b.PropUse),
		Aid:     strings.TrimSpace(b.Aid),
		Address: ComposeAddress(a.NumMile, a.StreetPre, a.StreetName, a.StreetType, a.StreetSuf),
		AptNo:   strings.TrimSpace(a.AptNo),
		XStreet: strings.TrimSpace(a.XStreet),
		City:    strings.ToUpper(strings.TrimSpace(a.City)),
		StateID: strings.TrimSpace(a.StateID),
		Zip5:    SanitizeZip(a.Zip5),

		FireMerge: FireMergeLeftOnly,
	}

	// Department state and incident state agree in practice; fill one from the other.
	if inc.StateID == "" {
		inc.StateID = inc.State
	}
	if inc.State == "" {
		inc.State = inc.StateID
	}

	numbers := []struct {
		field string
		raw   string
		dst   *float64
	}{
		{"oth_inj", b.OthInj, &inc.OthInj},
		{"oth_death", b.OthDeath, &inc.OthDeath},
		{"prop_loss", b.PropLoss, &inc.PropLoss},
		{"cont_loss", b.ContLoss, &inc.ContLoss},
	}
	for _, n := range numbers {
		v, ok := parseNumberOrZero(n.raw)
		if !ok {
			return Incident{}, &InvalidFieldError{Key: b.Key, Field: n.field, Value: n.raw}
		}
		*n.dst = v
	}
	inc.TotLoss = inc.PropLoss + inc.ContLoss

	inc.StFDID = inc.State + "_" + inc.FDID
	inc.UniqueID = strings.Join([]string{
		inc.State, inc.FDID, inc.IncDate.Format(DateLayout), inc.IncNo, inc.ExpNo,
	}, "_")

	if hasFire {
		inc.FireMerge = FireMergeBoth
		inc.Detector = strings.TrimSpace(f.Detector)
		inc.DetType = strings.TrimSpace(f.DetType)
		inc.DetPower = strings.TrimSpace(f.DetPower)
		inc.DetOperat = strings.TrimSpace(f.DetOperat)
		inc.DetEffect = strings.TrimSpace(f.DetEffect)
		inc.DetFail = strings.TrimSpace(f.DetFail)
		inc.AesPres = strings.TrimSpace(f.AesPres)
		inc.AesType = strings.TrimSpace(f.AesType)
		inc.AesOper = strings.TrimSpace(f.AesOper)
		inc.NoSprOp = strings.TrimSpace(f.NoSprOp)
		inc.AesFail = strings.TrimSpace(f.AesFail)
	}
	return inc, nil
}

// ParseIncidentDate parses an NFIRS MMDDYYYY date, restoring a dropped leading zero.
func ParseIncidentDate(raw string) (time.Time, error) {
	return time.Parse("01022006", zeroPad(raw, 8))
}

// ComposeAddress joins the street address parts into one upper-case mailing address.
// A street prefix repeated as the first word of the street name ("N", "N 21ST") is dropped.
func ComposeAddress(numMile, streetPre, streetName, streetType, streetSuf string) string {
	numMile = strings.ToUpper(numMile)
	streetPre = strings.ToUpper(streetPre)
	streetName = strings.ToUpper(streetName)
	streetType = strings.ToUpper(streetType)
	streetSuf = strings.ToUpper(streetSuf)

	if streetPre == strings.SplitN(streetName, " ", 2)[0] {
		streetPre = ""
	}

	joined := strings.Join([]string{numMile, streetPre, streetName, streetType, streetSuf}, " ")
	return strings.Join(strings.Fields(joined), " ")
}

// SanitizeZip trims a zip code and clears the known placeholder values.
func SanitizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if _, bad := invalidZips[zip]; bad {
		return ""
	}
	return zip
}

// zeroPad left-pads a non-missing value with zeros to width. Missing stays missing.
func zeroPad(s string, width int) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// parseNumberOrZero reads a casualty or loss figure. Missing means none reported.
func parseNumberOrZero(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
