package entity

// Cities maps known city slugs to their display names. A scope whose city
// is not listed here is invalid.
var Cities = map[string]string{
	"tehran":  "تهران",
	"urmia":   "ارومیه",
	"tabriz":  "تبریز",
	"isfahan": "اصفهان",
	"shiraz":  "شیراز",
	"mashhad": "مشهد",
	"karaj":   "کرج",
	"rasht":   "رشت",
	"qom":     "قم",
	"yazd":    "یزد",
}

// CategoryInfo describes one listing category of the source site.
type CategoryInfo struct {
	Name string
	Type string // buy, rent, service
}

// Categories maps known category slugs.
var Categories = map[string]CategoryInfo{
	"buy-residential":          {Name: "خرید مسکونی", Type: "buy"},
	"buy-apartment":            {Name: "خرید آپارتمان", Type: "buy"},
	"buy-villa":                {Name: "خرید ویلا", Type: "buy"},
	"buy-old-house":            {Name: "خرید خانه کلنگی", Type: "buy"},
	"rent-residential":         {Name: "اجاره مسکونی", Type: "rent"},
	"rent-apartment":           {Name: "اجاره آپارتمان", Type: "rent"},
	"rent-villa":               {Name: "اجاره ویلا", Type: "rent"},
	"buy-commercial-property":  {Name: "خرید اداری و تجاری", Type: "buy"},
	"rent-commercial-property": {Name: "اجاره اداری و تجاری", Type: "rent"},
	"rent-temporary":           {Name: "اجاره کوتاه مدت", Type: "rent"},
}

// ValidScope reports whether both halves of the scope resolve to a known
// city and category mapping.
func ValidScope(scope JobScope) bool {
	_, cityOK := Cities[scope.City]
	_, catOK := Categories[scope.Category]
	return cityOK && catOK
}
