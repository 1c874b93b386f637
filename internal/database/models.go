package database

import "time"

type Source struct {
	ID             string `gorm:"primaryKey;size:64"`
	Name           string
	Enabled        bool `gorm:"default:false"`
	CredentialsEnc []byte
	CheckSchedule  string
	LastSyncAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RawResponse is the current capture of one (source, local id) fetch.
// BlobRef is set when the body lives in the external object store; Body is
// empty in that case.
type RawResponse struct {
	ID          uint   `gorm:"primaryKey"`
	SourceID    string `gorm:"size:64;uniqueIndex:idx_raw_source_local;not null"`
	LocalID     string `gorm:"size:191;uniqueIndex:idx_raw_source_local;not null"`
	URL         string
	ContentHash string `gorm:"size:80;index"`
	Body        []byte
	BlobRef     string
	Size        int64
	FetchedAt   time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RawResponseLink records which canonical product a capture was resolved into.
type RawResponseLink struct {
	RawResponseID uint   `gorm:"primaryKey"`
	ProductID     string `gorm:"primaryKey;size:191"`
	CreatedAt     time.Time
}

// Product is the canonical record, one per real-world item.
type Product struct {
	ID                  string `gorm:"primaryKey;size:191"`
	Title               string
	Description         string
	ReleaseDate         *time.Time
	DurationMinutes     int
	DefaultThumbnailURL string
	CreatedAt           time.Time
	UpdatedAt           time.Time

	Sources    []ProductSource `gorm:"foreignKey:ProductID"`
	Images     []ProductImage  `gorm:"foreignKey:ProductID"`
	Videos     []ProductVideo  `gorm:"foreignKey:ProductID"`
	Performers []Performer     `gorm:"many2many:product_performers;joinForeignKey:ProductID;joinReferences:PerformerID"`
	Categories []Category      `gorm:"many2many:product_categories;joinForeignKey:ProductID;joinReferences:CategoryID"`
}

type ProductSource struct {
	ID           uint   `gorm:"primaryKey"`
	ProductID    string `gorm:"size:191;uniqueIndex:idx_product_source;not null"`
	SourceID     string `gorm:"size:64;uniqueIndex:idx_product_source;not null"`
	OriginalID   string `gorm:"size:191;index"`
	AffiliateURL string
	Price        int
	DataOrigin   string `gorm:"size:16"`
	LastUpdated  time.Time
	CreatedAt    time.Time
}

type Performer struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:191;not null"`
	NameKey   string `gorm:"size:191;uniqueIndex;not null"`
	Reading   string
	CreatedAt time.Time
	UpdatedAt time.Time

	Aliases []PerformerAlias `gorm:"foreignKey:PerformerID"`
}

type PerformerAlias struct {
	ID          uint   `gorm:"primaryKey"`
	PerformerID uint   `gorm:"uniqueIndex:idx_performer_alias;not null"`
	Alias       string `gorm:"size:191;not null"`
	AliasKey    string `gorm:"size:191;uniqueIndex:idx_performer_alias;index;not null"`
	CreatedAt   time.Time
}

type ProductPerformer struct {
	ProductID   string `gorm:"primaryKey;size:191"`
	PerformerID uint   `gorm:"primaryKey"`
}

type Category struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:191;not null"`
	NameKey   string `gorm:"size:191;uniqueIndex;not null"`
	CreatedAt time.Time
}

type ProductCategory struct {
	ProductID  string `gorm:"primaryKey;size:191"`
	CategoryID uint   `gorm:"primaryKey"`
}

type ProductImage struct {
	ID        uint   `gorm:"primaryKey"`
	ProductID string `gorm:"size:191;uniqueIndex:idx_product_image;not null"`
	URL       string `gorm:"size:512;uniqueIndex:idx_product_image;not null"`
	Kind      string `gorm:"size:16"`
	SourceID  string `gorm:"size:64"`
	Position  int
	CreatedAt time.Time
}

type ProductVideo struct {
	ID        uint   `gorm:"primaryKey"`
	ProductID string `gorm:"size:191;uniqueIndex:idx_product_video;not null"`
	URL       string `gorm:"size:512;uniqueIndex:idx_product_video;not null"`
	SourceID  string `gorm:"size:64"`
	Position  int
	CreatedAt time.Time
}

// SaleRecord holds the derived sale state of a (source, local id) pair.
type SaleRecord struct {
	ID              uint   `gorm:"primaryKey"`
	SourceID        string `gorm:"size:64;uniqueIndex:idx_sale_source_local;not null"`
	LocalID         string `gorm:"size:191;uniqueIndex:idx_sale_source_local;not null"`
	ProductID       string `gorm:"size:191;index"`
	RegularPrice    int
	SalePrice       int
	DiscountPercent int
	SaleType        string `gorm:"size:32"`
	ExpiresAt       *time.Time
	ExpiryInferred  bool
	Active          bool `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IngestRun is one execution of a source's ingestion job.
type IngestRun struct {
	ID               string `gorm:"primaryKey;size:36"`
	SourceID         string `gorm:"size:64;index"`
	Mode             string `gorm:"size:16"`
	Status           string `gorm:"size:16;index"`
	Options          string
	Fetched          int
	NewProducts      int
	UpdatedProducts  int
	SkippedUnchanged int
	NotFound         int
	Rejected         int
	RateLimited      int
	Errors           int
	ErrorMessage     string
	StartedAt        time.Time
	CompletedAt      *time.Time
}

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

const (
	RunModeFetch     = "fetch"
	RunModeReprocess = "reprocess"
)

type Webhook struct {
	ID        uint `gorm:"primaryKey"`
	Name      string
	URL       string
	Events    string
	Headers   []byte
	Secret    string
	Enabled   bool `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Setting struct {
	Key   string `gorm:"primaryKey;size:191"`
	Value string
}

const (
	SettingPassphraseHash = "passphrase_hash"
	SettingPassphraseSalt = "passphrase_salt"
	SettingEncryptionSalt = "encryption_salt"

	// SettingTotalPrefix prefixes the last known catalog size of each source.
	SettingTotalPrefix = "total:"
)
