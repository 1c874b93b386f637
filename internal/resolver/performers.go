package resolver

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/catalog-dev/catalog-ingest/internal/database"
	"github.com/catalog-dev/catalog-ingest/internal/names"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

// linkPerformers resolves every performer and links it to the product.
// Existing links are left alone; the count covers new links only.
func linkPerformers(tx *gorm.DB, productID string, performers []sources.PerformerInfo) (int, error) {
	linked := 0
	seen := make(map[uint]bool)
	for _, info := range performers {
		if !names.IsValid(info.Name) {
			continue
		}
		performer, err := resolvePerformer(tx, info)
		if err != nil {
			return linked, err
		}
		if seen[performer.ID] {
			continue
		}
		seen[performer.ID] = true

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&database.ProductPerformer{ProductID: productID, PerformerID: performer.ID})
		if res.Error != nil {
			return linked, res.Error
		}
		linked += int(res.RowsAffected)
	}
	return linked, nil
}

// resolvePerformer finds a performer by exact name (case and width
// insensitive), then by alias, and creates it otherwise.
func resolvePerformer(tx *gorm.DB, info sources.PerformerInfo) (*database.Performer, error) {
	key := names.Key(info.Name)

	performer, err := performerByKey(tx, key)
	if err != nil {
		return nil, err
	}
	if performer == nil {
		performer, err = performerByAlias(tx, key)
		if err != nil {
			return nil, err
		}
	}
	if performer == nil {
		row := database.Performer{Name: info.Name, NameKey: key, Reading: info.Reading}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return nil, err
		}
		// A concurrent writer may have won the insert; read back the row by key.
		performer, err = performerByKey(tx, key)
		if err != nil {
			return nil, err
		}
		if performer == nil {
			return nil, gorm.ErrDuplicatedKey
		}
	} else if performer.Reading == "" && info.Reading != "" {
		if err := tx.Model(performer).Update("reading", info.Reading).Error; err != nil {
			return nil, err
		}
	}

	for _, alias := range info.Aliases {
		aliasKey := names.Key(alias)
		if aliasKey == "" || aliasKey == performer.NameKey {
			continue
		}
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&database.PerformerAlias{
			PerformerID: performer.ID,
			Alias:       strings.TrimSpace(alias),
			AliasKey:    aliasKey,
		}).Error
		if err != nil {
			return nil, err
		}
	}
	return performer, nil
}

func performerByKey(tx *gorm.DB, key string) (*database.Performer, error) {
	var p database.Performer
	err := tx.Where("name_key = ?", key).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func performerByAlias(tx *gorm.DB, key string) (*database.Performer, error) {
	var alias database.PerformerAlias
	err := tx.Where("alias_key = ?", key).Order("id").First(&alias).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p database.Performer
	if err := tx.First(&p, alias.PerformerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// linkCategories creates missing categories and links them to the product.
func linkCategories(tx *gorm.DB, productID string, genres []string) (int, error) {
	linked := 0
	seen := make(map[string]bool)
	for _, g := range genres {
		name := sources.NormSpace(g)
		key := categoryKey(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&database.Category{Name: name, NameKey: key}).Error; err != nil {
			return linked, err
		}
		var cat database.Category
		if err := tx.Where("name_key = ?", key).First(&cat).Error; err != nil {
			return linked, err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&database.ProductCategory{ProductID: productID, CategoryID: cat.ID}).Error; err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}
