package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/internal/repository"
)

// ListingRepoImpl provides the ListingRepository implementation using PostgreSQL.
type ListingRepoImpl struct {
	db *pgxpool.Pool
}

// NewListingRepo creates a new instance of ListingRepoImpl.
func NewListingRepo(db *pgxpool.Pool) *ListingRepoImpl {
	return &ListingRepoImpl{db: db}
}

// Upsert stores or refreshes a listing keyed by its divar_id. The xmax
// system column distinguishes a fresh insert from a conflict update.
func (r *ListingRepoImpl) Upsert(ctx context.Context, l *entity.Listing) (repository.UpsertResult, error) {
	featuresJSON, err := json.Marshal(l.Features)
	if err != nil {
		return "", fmt.Errorf("failed to encode features: %w", err)
	}
	amenitiesJSON, err := json.Marshal(l.Amenities)
	if err != nil {
		return "", fmt.Errorf("failed to encode amenities: %w", err)
	}
	imagesJSON, err := json.Marshal(l.Images)
	if err != nil {
		return "", fmt.Errorf("failed to encode images: %w", err)
	}

	query := `
		INSERT INTO listings (
			divar_id, title, description, url,
			total_price, price_per_meter, rent_price, deposit,
			area, land_area, built_area, rooms, year_built, floor, total_floors, frontage,
			has_elevator, has_parking, has_storage, has_balcony,
			building_direction, unit_status, document_type, usage_type, property_type,
			category_name, listing_type,
			city_name, district, neighborhood, address, latitude, longitude,
			phone_number, features, amenities, images, scraped_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31,
			$32, $33, $34, $35, $36, $37, $38)
		ON CONFLICT (divar_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			total_price = EXCLUDED.total_price,
			price_per_meter = EXCLUDED.price_per_meter,
			rent_price = EXCLUDED.rent_price,
			deposit = EXCLUDED.deposit,
			area = EXCLUDED.area,
			land_area = EXCLUDED.land_area,
			built_area = EXCLUDED.built_area,
			rooms = EXCLUDED.rooms,
			year_built = EXCLUDED.year_built,
			floor = EXCLUDED.floor,
			total_floors = EXCLUDED.total_floors,
			frontage = EXCLUDED.frontage,
			has_elevator = EXCLUDED.has_elevator,
			has_parking = EXCLUDED.has_parking,
			has_storage = EXCLUDED.has_storage,
			has_balcony = EXCLUDED.has_balcony,
			building_direction = EXCLUDED.building_direction,
			unit_status = EXCLUDED.unit_status,
			document_type = EXCLUDED.document_type,
			usage_type = EXCLUDED.usage_type,
			property_type = EXCLUDED.property_type,
			category_name = EXCLUDED.category_name,
			listing_type = EXCLUDED.listing_type,
			city_name = EXCLUDED.city_name,
			district = EXCLUDED.district,
			neighborhood = EXCLUDED.neighborhood,
			address = EXCLUDED.address,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			phone_number = EXCLUDED.phone_number,
			features = EXCLUDED.features,
			amenities = EXCLUDED.amenities,
			images = EXCLUDED.images,
			scraped_at = EXCLUDED.scraped_at
		RETURNING (xmax = 0);
	`

	var inserted bool
	err = r.db.QueryRow(ctx, query,
		l.DivarID, l.Title, l.Description, l.URL,
		l.TotalPrice, l.PricePerMeter, l.RentPrice, l.Deposit,
		l.Area, l.LandArea, l.BuiltArea, l.Rooms, l.YearBuilt, l.Floor, l.TotalFloors, l.Frontage,
		l.HasElevator, l.HasParking, l.HasStorage, l.HasBalcony,
		l.BuildingDirection, l.UnitStatus, l.DocumentType, l.UsageType, l.PropertyType,
		l.CategoryName, l.ListingType,
		l.CityName, l.District, l.Neighborhood, l.Address, l.Latitude, l.Longitude,
		l.PhoneNumber, featuresJSON, amenitiesJSON, imagesJSON, l.ScrapedAt,
	).Scan(&inserted)
	if err != nil {
		return "", fmt.Errorf("failed to upsert listing %s: %w", l.DivarID, err)
	}

	if inserted {
		return repository.UpsertCreated, nil
	}
	return repository.UpsertUpdated, nil
}

// FindByDivarID retrieves a stored listing, nil when absent.
func (r *ListingRepoImpl) FindByDivarID(ctx context.Context, divarID string) (*entity.Listing, error) {
	query := `
		SELECT divar_id, title, description, url,
			total_price, price_per_meter, rent_price, deposit,
			area, land_area, built_area, rooms, year_built, floor, total_floors, frontage,
			has_elevator, has_parking, has_storage, has_balcony,
			building_direction, unit_status, document_type, usage_type, property_type,
			category_name, listing_type,
			city_name, district, neighborhood, address, latitude, longitude,
			phone_number, features, amenities, images, scraped_at
		FROM listings
		WHERE divar_id = $1;
	`
	row := r.db.QueryRow(ctx, query, divarID)

	var l entity.Listing
	var featuresJSON, amenitiesJSON, imagesJSON []byte
	err := row.Scan(
		&l.DivarID, &l.Title, &l.Description, &l.URL,
		&l.TotalPrice, &l.PricePerMeter, &l.RentPrice, &l.Deposit,
		&l.Area, &l.LandArea, &l.BuiltArea, &l.Rooms, &l.YearBuilt, &l.Floor, &l.TotalFloors, &l.Frontage,
		&l.HasElevator, &l.HasParking, &l.HasStorage, &l.HasBalcony,
		&l.BuildingDirection, &l.UnitStatus, &l.DocumentType, &l.UsageType, &l.PropertyType,
		&l.CategoryName, &l.ListingType,
		&l.CityName, &l.District, &l.Neighborhood, &l.Address, &l.Latitude, &l.Longitude,
		&l.PhoneNumber, &featuresJSON, &amenitiesJSON, &imagesJSON, &l.ScrapedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find listing %s: %w", divarID, err)
	}

	if err := json.Unmarshal(featuresJSON, &l.Features); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(amenitiesJSON, &l.Amenities); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(imagesJSON, &l.Images); err != nil {
		return nil, err
	}
	return &l, nil
}
