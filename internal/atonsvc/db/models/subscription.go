package models

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/grad-enav/atonservice/internal/common/uuid"
)

/*
 Table "public.subscription_requests"
          Column           |           Type           | Nullable
---------------------------+--------------------------+----------
 uuid                      | uuid                     | not null
 client_mrn                | character varying(255)   | not null
 container_type            | character varying(32)    |
 data_product_type         | character varying(32)    |
 product_version           | character varying(32)    |
 data_reference            | uuid                     |
 geometry                  | geometry(Geometry,4326)  |
 subscription_period_start | timestamp with time zone |
 subscription_period_end   | timestamp with time zone |
 created_at                | timestamp with time zone | not null
 updated_at                | timestamp with time zone | not null
 last_attempted_at         | timestamp with time zone |
Indexes:
    "subscription_requests_pkey" PRIMARY KEY, btree (uuid)
    "idx_subscription_requests_client_mrn" btree (client_mrn)
    "idx_subscription_requests_data_reference" btree (data_reference)
*/

// ContainerType selects how a dataset is delivered.
type ContainerType string

const (
	ContainerDataSet     ContainerType = "S100_DataSet"
	ContainerExchangeSet ContainerType = "S100_ExchangeSet"
)

// An empty string or nil criterion on a subscription matches anything.
type SubscriptionRequest struct {
	UUID                    uuid.UUID     `db:"uuid" json:"uuid"`
	ClientMRN               string        `db:"client_mrn" json:"clientMrn"`
	ContainerType           ContainerType `db:"container_type" json:"containerType,omitempty" validate:"omitempty,oneof=S100_DataSet S100_ExchangeSet"`
	DataProductType         string        `db:"data_product_type" json:"dataProductType,omitempty" validate:"omitempty,oneof=S125"`
	ProductVersion          string        `db:"product_version" json:"productVersion,omitempty" validate:"max=32"`
	DataReference           *uuid.UUID    `db:"data_reference" json:"dataReference,omitempty"`
	Geometry                orb.Geometry  `db:"geometry" json:"-"`
	SubscriptionPeriodStart *time.Time    `db:"subscription_period_start" json:"subscriptionPeriodStart,omitempty"`
	SubscriptionPeriodEnd   *time.Time    `db:"subscription_period_end" json:"subscriptionPeriodEnd,omitempty"`
	CreatedAt               time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time     `db:"updated_at" json:"updatedAt"`
	LastAttemptedAt         *time.Time    `db:"last_attempted_at" json:"lastAttemptedAt,omitempty"`
}

// SubscriptionCriteria describes a published dataset; zero fields are
// wildcards on the query side.
type SubscriptionCriteria struct {
	ContainerType  ContainerType
	ProductType    string
	ProductVersion string
	DataReference  *uuid.UUID
	Geometry       orb.Geometry
	AsOf           *time.Time
}
