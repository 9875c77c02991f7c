package models

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/grad-enav/atonservice/internal/common/uuid"
)

/*
 Table "public.s125_datasets"
     Column      |           Type           | Nullable | Default
-----------------+--------------------------+----------+---------
 uuid            | uuid                     | not null |
 file_identifier | character varying(255)   |          |
 title           | character varying(255)   | not null |
 abstract        | text                     |          |
 edition         | character varying(32)    |          |
 language        | character varying(8)     |          |
 product_edition | character varying(32)    |          |
 geometry        | geometry(Geometry,4326)  |          |
 cancelled       | boolean                  | not null | false
 created_at      | timestamp with time zone | not null | now()
 last_updated_at | timestamp with time zone | not null | now()
Indexes:
    "s125_datasets_pkey" PRIMARY KEY, btree (uuid)
    "idx_s125_datasets_geometry" gist (geometry)
*/

type Dataset struct {
	UUID           uuid.UUID       `db:"uuid" json:"uuid"`
	FileIdentifier string          `db:"file_identifier" json:"fileIdentifier,omitempty" validate:"max=255"`
	Title          string          `db:"title" json:"title" validate:"required,max=255"`
	Abstract       string          `db:"abstract" json:"abstract,omitempty"`
	Edition        string          `db:"edition" json:"edition,omitempty" validate:"max=32"`
	Language       string          `db:"language" json:"language,omitempty" validate:"omitempty,alpha,min=2,max=8"`
	ProductEdition string          `db:"product_edition" json:"productEdition,omitempty" validate:"max=32"`
	Geometry       orb.Geometry    `db:"geometry" json:"-"`
	Cancelled      bool            `db:"cancelled" json:"cancelled"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	LastUpdatedAt  time.Time       `db:"last_updated_at" json:"lastUpdatedAt"`
	Content        *DatasetContent `db:"-" json:"-"`
}

// IsNew reports whether the dataset has not been stored yet.
func (d *Dataset) IsNew() bool {
	return d.CreatedAt.IsZero()
}

// DatasetFilter selects datasets. Zero fields match everything.
type DatasetFilter struct {
	UUID             *uuid.UUID
	Geometry         orb.Geometry
	From             *time.Time
	To               *time.Time
	IncludeCancelled bool
}

type Page struct {
	Offset int
	Limit  int
}

// DefaultPageSize is used when a page has no limit.
const DefaultPageSize = 100

func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	return p
}

type DatasetPage struct {
	Items []Dataset `json:"items"`
	Total int64     `json:"total"`
	Page  Page      `json:"-"`
}

/*
 Table "public.dataset_content"
     Column     |           Type           | Nullable
----------------+--------------------------+----------
 uuid           | uuid                     | not null
 sequence_no    | bigint                   | not null
 content        | bytea                    | not null
 content_length | bigint                   | not null
 delta          | bytea                    |
 delta_length   | bigint                   | not null
 generated_at   | timestamp with time zone | not null
Indexes:
    "dataset_content_pkey" PRIMARY KEY, btree (uuid)
Foreign-key constraints:
    FOREIGN KEY (uuid) REFERENCES s125_datasets(uuid) ON DELETE CASCADE

content and delta are snappy compressed; lengths are of the uncompressed bytes.
*/

type DatasetContent struct {
	UUID          uuid.UUID `db:"uuid"`
	SequenceNo    int64     `db:"sequence_no"`
	Content       []byte    `db:"content"`
	ContentLength int64     `db:"content_length"`
	Delta         []byte    `db:"delta"`
	DeltaLength   int64     `db:"delta_length"`
	GeneratedAt   time.Time `db:"generated_at"`
}

// Operation is the kind of change recorded in the content log.
type Operation string

const (
	OperationCreated   Operation = "CREATED"
	OperationUpdated   Operation = "UPDATED"
	OperationCancelled Operation = "CANCELLED"
	OperationDeleted   Operation = "DELETED"
)

// IsWithdrawal reports whether the operation removes the dataset from circulation.
func (o Operation) IsWithdrawal() bool {
	return o == OperationCancelled || o == OperationDeleted
}

const DatasetTypeS125 = "S125"

/*
 Table "public.dataset_content_log"
     Column     |           Type           | Nullable
----------------+--------------------------+----------
 id             | bigserial                | not null
 uuid           | uuid                     | not null
 dataset_type   | character varying(16)    | not null
 sequence_no    | bigint                   | not null
 operation      | character varying(16)    | not null
 content        | bytea                    |
 content_length | bigint                   | not null
 delta          | bytea                    |
 delta_length   | bigint                   | not null
 geometry       | geometry(Geometry,4326)  |
 generated_at   | timestamp with time zone | not null
Indexes:
    "dataset_content_log_pkey" PRIMARY KEY, btree (id)
    "dataset_content_log_uuid_sequence_no_key" UNIQUE, btree (uuid, sequence_no)

The log outlives its dataset so that withdrawals stay visible.
*/

type ContentLogEntry struct {
	ID            int64        `db:"id" json:"id"`
	UUID          uuid.UUID    `db:"uuid" json:"uuid"`
	DatasetType   string       `db:"dataset_type" json:"datasetType"`
	SequenceNo    int64        `db:"sequence_no" json:"sequenceNo"`
	Operation     Operation    `db:"operation" json:"operation"`
	Content       []byte       `db:"content" json:"-"`
	ContentLength int64        `db:"content_length" json:"contentLength"`
	Delta         []byte       `db:"delta" json:"-"`
	DeltaLength   int64        `db:"delta_length" json:"deltaLength"`
	Geometry      orb.Geometry `db:"geometry" json:"-"`
	GeneratedAt   time.Time    `db:"generated_at" json:"generatedAt"`
}
