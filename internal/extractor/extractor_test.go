package extractor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPageHTML = `
<html><body>
  <a class="kt-post-card__action" href="/v/apartment-85m/gZxQabcd">
    <h2 class="kt-post-card__title">آپارتمان ۸۵ متری</h2>
    <span class="kt-post-card__description">۱٬۲۵۰٬۰۰۰٬۰۰۰ تومان</span>
    <img class="kt-image-block__image" src="https://s100.divarcdn.com/static/thumbnail/photo1.jpg">
  </a>
  <a class="kt-post-card__action" href="/v/villa-200m/gZxQefgh">
    <h2 class="kt-post-card__title">ویلا ۲۰۰ متری</h2>
  </a>
  <a class="kt-post-card__action" href="/v/apartment-85m/gZxQabcd">
    <h2 class="kt-post-card__title">duplicate of the first card</h2>
  </a>
</body></html>`

const detailPageHTML = `
<html><body>
  <div class="kt-page-title__subtitle">
    <a href="/s/tehran">تهران</a>
    <a href="#">پونک</a>
  </div>
  <h1 class="kt-page-title__title">آپارتمان ۸۵ متری دو خوابه</h1>
  <div class="kt-base-row">
    <span class="kt-base-row__title">متراژ</span>
    <span class="kt-base-row__end">۸۵ متر</span>
  </div>
  <div class="kt-base-row">
    <span class="kt-base-row__title">قیمت کل</span>
    <span class="kt-base-row__end">۱٬۲۵۰٬۰۰۰٬۰۰۰ تومان</span>
  </div>
  <div class="kt-base-row">
    <span class="kt-base-row__title">قیمت هر متر</span>
    <span class="kt-base-row__end">۱۴٬۷۰۰٬۰۰۰ تومان</span>
  </div>
  <div class="kt-unexpandable-row">
    <span class="kt-unexpandable-row__title">طبقه</span>
    <span class="kt-unexpandable-row__value">۲ از ۴</span>
  </div>
  <div class="kt-unexpandable-row">
    <span class="kt-unexpandable-row__title">اتاق</span>
    <span class="kt-unexpandable-row__value">۲</span>
  </div>
  <div class="kt-unexpandable-row">
    <span class="kt-unexpandable-row__title">آسانسور</span>
    <span class="kt-unexpandable-row__value">دارد</span>
  </div>
  <div class="kt-unexpandable-row">
    <span class="kt-unexpandable-row__title">پارکینگ</span>
    <span class="kt-unexpandable-row__value">ندارد</span>
  </div>
  <div class="kt-unexpandable-row">
    <span class="kt-unexpandable-row__title">سال ساخت</span>
    <span class="kt-unexpandable-row__value">۱۳۹۸</span>
  </div>
  <div class="kt-description-row__text">واحد نورگیر با کابینت ام دی اف
شومینه سنگی در پذیرایی</div>
  <img class="kt-image-block__image" src="https://s100.divarcdn.com/static/webp_thumbnail/photo1.webp">
  <img class="kt-image-block__image" src="https://s100.divarcdn.com/static/webp_thumbnail/photo2.webp">
  <img class="kt-image-block__image" src="https://cdn.other.com/ad-banner.jpg">
  <a href="tel:9123456789">تماس</a>
</body></html>`

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New("https://divar.ir")
	require.NoError(t, err)
	return e
}

func TestCards(t *testing.T) {
	e := newTestExtractor(t)

	cards, err := e.Cards(indexPageHTML)
	require.NoError(t, err)
	require.Len(t, cards, 2, "duplicate hrefs must collapse into one card")

	assert.Equal(t, "gZxQabcd", cards[0].DivarID)
	assert.Equal(t, "https://divar.ir/v/apartment-85m/gZxQabcd", cards[0].URL)
	assert.Equal(t, "آپارتمان ۸۵ متری", cards[0].Title)
	assert.NotEmpty(t, cards[0].Descriptions)
	assert.Contains(t, cards[0].ThumbnailURL, "divarcdn")

	assert.Equal(t, "gZxQefgh", cards[1].DivarID)
}

func TestCards_EmptyPage(t *testing.T) {
	e := newTestExtractor(t)
	cards, err := e.Cards("<html><body><p>no results</p></body></html>")
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestExtract(t *testing.T) {
	e := newTestExtractor(t)

	listing, err := e.Extract(detailPageHTML, "https://divar.ir/v/apartment-85m/gZxQabcd")
	require.NoError(t, err)

	assert.Equal(t, "gZxQabcd", listing.DivarID)
	assert.Equal(t, "آپارتمان ۸۵ متری دو خوابه", listing.Title)

	require.NotNil(t, listing.Area)
	assert.Equal(t, 85, *listing.Area)
	require.NotNil(t, listing.TotalPrice)
	assert.Equal(t, int64(1250000000), *listing.TotalPrice)
	require.NotNil(t, listing.PricePerMeter)
	assert.Equal(t, int64(14700000), *listing.PricePerMeter)

	require.NotNil(t, listing.Floor)
	require.NotNil(t, listing.TotalFloors)
	assert.Equal(t, 2, *listing.Floor)
	assert.Equal(t, 4, *listing.TotalFloors)

	require.NotNil(t, listing.Rooms)
	assert.Equal(t, 2, *listing.Rooms)
	require.NotNil(t, listing.YearBuilt)
	assert.Equal(t, 1398, *listing.YearBuilt)

	assert.True(t, listing.HasElevator)
	assert.False(t, listing.HasParking)

	assert.Equal(t, "تهران", listing.CityName)
	assert.Equal(t, "پونک", listing.District)
	assert.Equal(t, "09123456789", listing.PhoneNumber)
}

func TestExtract_Images(t *testing.T) {
	e := newTestExtractor(t)

	listing, err := e.Extract(detailPageHTML, "https://divar.ir/v/apartment-85m/gZxQabcd")
	require.NoError(t, err)

	require.Len(t, listing.Images, 2, "non-CDN images must be dropped")
	for _, img := range listing.Images {
		assert.Contains(t, img, "divarcdn")
		assert.NotContains(t, img, "thumbnail", "thumbnail variants must be upgraded")
	}
}

func TestExtract_Amenities(t *testing.T) {
	e := newTestExtractor(t)

	listing, err := e.Extract(detailPageHTML, "https://divar.ir/v/apartment-85m/gZxQabcd")
	require.NoError(t, err)

	joined := fmt.Sprint(listing.Amenities)
	assert.Contains(t, joined, "نورگیر")
	assert.Contains(t, joined, "شومینه")
}

func TestExtract_Idempotent(t *testing.T) {
	e := newTestExtractor(t)

	first, err := e.Extract(detailPageHTML, "https://divar.ir/v/apartment-85m/gZxQabcd")
	require.NoError(t, err)
	second, err := e.Extract(detailPageHTML, "https://divar.ir/v/apartment-85m/gZxQabcd")
	require.NoError(t, err)

	second.ScrapedAt = first.ScrapedAt
	assert.Equal(t, first, second)
}

func TestExtract_MissingRequiredFields(t *testing.T) {
	e := newTestExtractor(t)

	_, err := e.Extract("<html><body><p>gone</p></body></html>", "https://divar.ir/v/x/gZxQdead")
	assert.True(t, errors.Is(err, ErrMalformedListing))
}

func TestExtract_OptionalFieldsStayNil(t *testing.T) {
	e := newTestExtractor(t)

	html := `<html><body><h1 class="kt-page-title__title">آگهی بدون مشخصات</h1></body></html>`
	listing, err := e.Extract(html, "https://divar.ir/v/bare/gZxQbare")
	require.NoError(t, err)

	assert.Nil(t, listing.TotalPrice)
	assert.Nil(t, listing.Area)
	assert.Nil(t, listing.Rooms)
	assert.Nil(t, listing.Floor)
	assert.Nil(t, listing.TotalFloors)
	assert.Empty(t, listing.Images)
}
