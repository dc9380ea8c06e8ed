package extractor

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/pkg/utils"
)

// ErrMalformedListing is returned when a detail page lacks a required field
// after every selector in its chain. The caller skips the listing.
var ErrMalformedListing = errors.New("listing page is missing required fields")

// Selector fallback chains. The first selector yielding a non-empty match
// wins; later entries cover older markup variants of the source site.
var (
	cardChain = []string{
		"a.kt-post-card__action",
		"div.post-card-item a",
		`article a[href*="/v/"]`,
		`a[href*="/v/"]`,
	}
	cardTitleChain = []string{".kt-post-card__title", ".post-title", "h2", "h3"}
	cardDescChain  = []string{".kt-post-card__description", ".post-description", "span.description"}
	titleChain     = []string{"h1.kt-page-title__title", "h1", ".post-title"}
	descChain      = []string{".kt-description-row__text"}
	rowChain       = ".kt-group-row-item, .kt-base-row, .kt-unexpandable-row"
	rowTitleChain  = []string{".kt-group-row-item__title", ".kt-base-row__title", ".kt-unexpandable-row__title"}
	rowValueChain  = []string{".kt-group-row-item__value", ".kt-base-row__end", ".kt-unexpandable-row__value"}
	imageChain     = ".kt-image-block__image, .post-image img, picture img"
	breadcrumbSel  = ".kt-page-title__subtitle a, .kt-breadcrumb a"
)

// amenityKeywords marks free-text rows worth collecting into the amenities set.
var amenityKeywords = []string{
	"پارکینگ", "انباری", "آسانسور", "بالکن", "لابی", "سرایدار",
	"استخر", "سونا", "جکوزی", "روف گاردن",
	"کولر", "شوفاژ", "پکیج", "اسپلیت",
	"پارکت", "سرامیک", "کمد", "شومینه",
	"هود", "کابینت",
	"نورگیر", "حیاط", "نوساز", "بازسازی",
}

// Extractor turns rendered page HTML into normalized records. It is a pure
// function of its input; extracting the same page twice yields identical output.
type Extractor struct {
	baseURL *url.URL
}

// New creates an extractor resolving relative links against baseURL.
func New(baseURL string) (*Extractor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Extractor{baseURL: u}, nil
}

// Cards parses an index page into listing summaries, preserving page order.
func (e *Extractor) Cards(html string) ([]entity.ListingCard, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var sel *goquery.Selection
	for _, chain := range cardChain {
		sel = doc.Find(chain)
		if sel.Length() > 0 {
			break
		}
	}

	var cards []entity.ListingCard
	seen := make(map[string]bool)
	sel.Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" || !strings.Contains(href, "/v/") {
			return
		}
		abs, err := utils.ToAbsoluteURL(e.baseURL, href)
		if err != nil {
			return
		}
		id := utils.ListingIDFromURL(abs)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true

		card := entity.ListingCard{
			URL:     abs,
			DivarID: id,
			Title:   firstText(s, cardTitleChain...),
		}
		for _, chain := range cardDescChain {
			s.Find(chain).Each(func(_ int, d *goquery.Selection) {
				if t := trimmed(d); t != "" {
					card.Descriptions = append(card.Descriptions, t)
				}
			})
			if len(card.Descriptions) > 0 {
				break
			}
		}
		if img := s.Find(".kt-image-block__image, img").First(); img.Length() > 0 {
			card.ThumbnailURL = imageSrc(img)
		}
		cards = append(cards, card)
	})
	return cards, nil
}

// Extract parses a detail page into a listing. Optional fields resolve
// independently and stay nil when absent; only a missing identifier, title
// or URL makes the page malformed.
func (e *Extractor) Extract(html, pageURL string) (*entity.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	listing := &entity.Listing{
		DivarID:     utils.ListingIDFromURL(pageURL),
		URL:         pageURL,
		Title:       firstText(doc.Selection, titleChain...),
		Description: firstText(doc.Selection, descChain...),
		ScrapedAt:   time.Now(),
	}
	if listing.DivarID == "" || listing.Title == "" || listing.URL == "" {
		return nil, ErrMalformedListing
	}

	doc.Find(rowChain).Each(func(_ int, row *goquery.Selection) {
		label := firstText(row, rowTitleChain...)
		value := firstText(row, rowValueChain...)
		if label == "" || value == "" {
			return
		}
		e.applyRow(listing, label, value)
	})

	e.extractLocation(doc, listing)
	listing.Features = e.extractFeatures(doc)
	listing.Amenities = e.extractAmenities(doc, listing.Description)
	listing.Images = e.extractImages(doc)

	if phone, ok := doc.Find(`a[href^="tel:"]`).First().Attr("href"); ok {
		listing.PhoneNumber = NormalizePhone(strings.TrimPrefix(phone, "tel:"))
	}

	return listing, nil
}

// applyRow routes one label/value row into the matching field. Longer
// labels are matched before their substrings (land area before area,
// per-meter price before price).
func (e *Extractor) applyRow(l *entity.Listing, label, value string) {
	switch {
	case strings.Contains(label, "قیمت هر متر"):
		l.PricePerMeter = ParseNumber(value)
	case strings.Contains(label, "اجاره"):
		l.RentPrice = ParseNumber(value)
	case strings.Contains(label, "ودیعه") || strings.Contains(label, "رهن"):
		l.Deposit = ParseNumber(value)
	case strings.Contains(label, "قیمت"):
		l.TotalPrice = ParseNumber(value)
	case strings.Contains(label, "متراژ زمین"):
		l.LandArea = ParseInt(value)
	case strings.Contains(label, "زیربنا"):
		l.BuiltArea = ParseInt(value)
	case strings.Contains(label, "متراژ"):
		l.Area = ParseInt(value)
	case strings.Contains(label, "اتاق"):
		rooms := ParseInt(value)
		if rooms == nil && strings.Contains(value, "بدون اتاق") {
			zero := 0
			rooms = &zero
		}
		l.Rooms = rooms
	case strings.Contains(label, "ساخت") || strings.Contains(label, "سال"):
		l.YearBuilt = ParseInt(value)
	case strings.Contains(label, "طبقه"):
		// "۲ از ۴" fills both fields atomically; a bare number is just the floor.
		if cur, total := ParseCompound(value); cur != nil {
			l.Floor, l.TotalFloors = cur, total
		} else {
			l.Floor = ParseInt(value)
		}
	case strings.Contains(label, "آسانسور"):
		l.HasElevator = ParseBool(value)
	case strings.Contains(label, "پارکینگ"):
		l.HasParking = ParseBool(value)
	case strings.Contains(label, "انباری"):
		l.HasStorage = ParseBool(value)
	case strings.Contains(label, "بالکن"):
		l.HasBalcony = ParseBool(value)
	case strings.Contains(label, "جهت"):
		l.BuildingDirection = value
	case strings.Contains(label, "نوع کاربری"):
		l.UsageType = value
	case strings.Contains(label, "نوع ملک"):
		l.PropertyType = value
	case strings.Contains(label, "وضعیت"):
		l.UnitStatus = value
	case strings.Contains(label, "سند"):
		l.DocumentType = value
	case strings.Contains(label, "بر") && strings.Contains(value, "متر"):
		l.Frontage = ParseInt(value)
	}
}

func (e *Extractor) extractLocation(doc *goquery.Document, l *entity.Listing) {
	var crumbs []string
	doc.Find(breadcrumbSel).Each(func(_ int, s *goquery.Selection) {
		if t := trimmed(s); t != "" {
			crumbs = append(crumbs, t)
		}
	})
	if len(crumbs) > 0 {
		l.CityName = crumbs[0]
	}
	if len(crumbs) > 1 {
		l.District = crumbs[1]
	}
	if len(crumbs) > 2 {
		l.Neighborhood = crumbs[2]
	}

	if m := doc.Find("[data-lat][data-lng]").First(); m.Length() > 0 {
		if lat := attrFloat(m, "data-lat"); lat != nil {
			l.Latitude = lat
		}
		if lng := attrFloat(m, "data-lng"); lng != nil {
			l.Longitude = lng
		}
	}
	if a := doc.Find(`.kt-unexpandable-row__value a[href^="geo:"]`).First(); a.Length() > 0 {
		l.Address = trimmed(a)
	}
}

func (e *Extractor) extractFeatures(doc *goquery.Document) []string {
	var features []string
	seen := make(map[string]bool)
	doc.Find(".kt-group-row-item__value, .kt-feature-row__title").Each(func(_ int, s *goquery.Selection) {
		t := trimmed(s)
		if t != "" && !seen[t] {
			seen[t] = true
			features = append(features, t)
		}
	})
	return features
}

func (e *Extractor) extractAmenities(doc *goquery.Document, description string) []string {
	var amenities []string
	seen := make(map[string]bool)
	add := func(t string) {
		if t == "" || len(t) < 2 || seen[t] {
			return
		}
		for _, kw := range amenityKeywords {
			if strings.Contains(t, kw) {
				seen[t] = true
				amenities = append(amenities, t)
				return
			}
		}
	}
	doc.Find(".kt-group-row-item__value, .kt-unexpandable-row__value, .kt-unexpandable-row__title").Each(func(_ int, s *goquery.Selection) {
		add(trimmed(s))
	})
	// Sellers often list amenities line by line inside the free-text description.
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) < 50 {
			add(line)
		}
	}
	return amenities
}

func (e *Extractor) extractImages(doc *goquery.Document) []string {
	var images []string
	seen := make(map[string]bool)
	doc.Find(imageChain).Each(func(_ int, s *goquery.Selection) {
		src := imageSrc(s)
		if src == "" || !strings.Contains(src, "divarcdn") {
			return
		}
		// Swap the CDN's thumbnail variant for the full-size one.
		src = strings.ReplaceAll(src, "webp_thumbnail", "webp")
		src = strings.ReplaceAll(src, "thumbnail", "main")
		if !seen[src] {
			seen[src] = true
			images = append(images, src)
		}
	})
	return images
}

func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := trimmed(s.Find(sel).First()); t != "" {
			return t
		}
	}
	return ""
}

func trimmed(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func imageSrc(s *goquery.Selection) string {
	if src, ok := s.Attr("src"); ok && src != "" {
		return src
	}
	src, _ := s.Attr("data-src")
	return src
}

func attrFloat(s *goquery.Selection, name string) *float64 {
	raw, ok := s.Attr(name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return &f
}
