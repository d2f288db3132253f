package rawtable

import "github.com/couchcryptid/nfirs-geocode-etl/internal/domain"

var keyColumns = []string{"state", "fdid", "inc_date", "inc_no", "exp_no"}

var basicColumns = append(append([]string{}, keyColumns...),
	"dept_sta", "inc_type", "aid", "prop_use", "oth_inj", "oth_death", "prop_loss", "cont_loss")

var addressColumns = append(append([]string{}, keyColumns...),
	"num_mile", "street_pre", "streetname", "streettype", "streetsuf", "apt_no", "city", "state_id", "zip5", "x_street")

var fireColumns = append(append([]string{}, keyColumns...),
	"detector", "det_type", "det_power", "det_operat", "det_effect", "det_fail",
	"aes_pres", "aes_type", "aes_oper", "no_spr_op", "aes_fail")

func toBasic(r record) domain.BasicRow {
	return domain.BasicRow{
		Key:      r.key(),
		DeptSta:  r.get("dept_sta"),
		IncType:  r.get("inc_type"),
		Aid:      r.get("aid"),
		PropUse:  r.get("prop_use"),
		OthInj:   r.get("oth_inj"),
		OthDeath: r.get("oth_death"),
		PropLoss: r.get("prop_loss"),
		ContLoss: r.get("cont_loss"),
	}
}

func toAddress(r record) domain.AddressRow {
	return domain.AddressRow{
		Key:        r.key(),
		NumMile:    r.get("num_mile"),
		StreetPre:  r.get("street_pre"),
		StreetName: r.get("streetname"),
		StreetType: r.get("streettype"),
		StreetSuf:  r.get("streetsuf"),
		AptNo:      r.get("apt_no"),
		City:       r.get("city"),
		StateID:    r.get("state_id"),
		Zip5:       r.get("zip5"),
		XStreet:    r.get("x_street"),
	}
}

func toFire(r record) domain.FireRow {
	return domain.FireRow{
		Key:       r.key(),
		Detector:  r.get("detector"),
		DetType:   r.get("det_type"),
		DetPower:  r.get("det_power"),
		DetOperat: r.get("det_operat"),
		DetEffect: r.get("det_effect"),
		DetFail:   r.get("det_fail"),
		AesPres:   r.get("aes_pres"),
		AesType:   r.get("aes_type"),
		AesOper:   r.get("aes_oper"),
		NoSprOp:   r.get("no_spr_op"),
		AesFail:   r.get("aes_fail"),
	}
}
