// Package domain models National Fire Incident Reporting System (NFIRS) incident
// records and the Census batch geocoding results attached to them.
//
// # Data Source
//
// NFIRS public data releases ship one directory per year containing caret-delimited
// ("^") ISO-8859-1 text tables. Three of them are consumed here:
//
//	basicincident.txt     one row per incident exposure: type, property use, losses, casualties
//	incidentaddress.txt   street address parts, city, state, zip
//	fireincident.txt      detector and automatic extinguishing system (AES) fields
//
// All three share the composite key (state, fdid, inc_date, inc_no, exp_no). Column names
// are upper-case in the release and lower-cased on read.
//
// # NFIRS Field Conventions
//
// Incident date:
//
//	MMDDYYYY stored as a number, so January dates lose their leading zero:
//	"1012016" → "01012016" → 2016-01-01. Unparseable dates are fatal.
//
// Fixed widths (NFIRS 5.0 reference guide):
//
//	fdid      5 characters, zero-padded
//	inc_no    7 characters, zero-padded
//	exp_no    3 characters, zero-padded
//	dept_sta  3 characters, zero-padded (missing stays missing)
//
// Home fires:
//
//	Incident types 111 and 113–122 (building and confined structure fires) on a
//	property-use code starting with "4" (residential). Everything else is filtered.
//
// Zip sentinels:
//
//	00000, 11111, 22222 and 99999 are placeholder values entered when the zip is
//	unknown; they are cleared so the geocoder matches on street/city/state alone.
//
// Missing casualties and losses:
//
//	oth_inj, oth_death, prop_loss and cont_loss are zero-filled. A real injury, death or
//	large loss is assumed to have been reported.
//
// # Rollup
//
// Multi-unit buildings produce one record per affected household for the same fire.
// Records sharing address, city, state and date are collapsed into one. When the group
// spans more than one distinct apartment number the casualty and loss figures are summed
// (distinct households); otherwise the maximum is kept (the same unit reported twice).
// See [Rollup].
package domain
