// Package exchangeset packages dataset content into S-100 exchange set
// archives.
package exchangeset

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/grad-enav/atonservice/internal/atonsvc/db/models"
	"github.com/grad-enav/atonservice/internal/common/apperrors"
	"github.com/grad-enav/atonservice/internal/common/uuid"
)

const (
	rootDir     = "S100_ROOT"
	catalogFile = "CATALOG.XML"
	datasetDir  = "S-125/DATASET_FILES"
)

var (
	ErrExchangeSet apperrors.Error = apperrors.New("unable to build exchange set").SetStatusCode(http.StatusInternalServerError)
	ErrEmpty       apperrors.Error = ErrExchangeSet.New("no content in the requested period").SetKind(apperrors.KindNotFound).SetStatusCode(http.StatusNotFound)
)

// LogSource returns the content log entries of one dataset in sequence order.
type LogSource interface {
	FindForUUIDDuring(ctx context.Context, id uuid.UUID, from, to time.Time) ([]models.ContentLogEntry, apperrors.Error)
}

// Packager builds S-100 exchange set archives from the content log.
type Packager struct {
	log LogSource
	now func() time.Time
}

// NewPackager returns a packager reading dataset history from log.
func NewPackager(log LogSource) *Packager {
	return &Packager{log: log, now: time.Now}
}

type catalog struct {
	XMLName     xml.Name      `xml:"S100_ExchangeCatalogue"`
	Identifier  string        `xml:"identifier>identifier"`
	DateTime    string        `xml:"identifier>dateTime"`
	Description string        `xml:"exchangeCatalogueDescription,omitempty"`
	Datasets    []catalogItem `xml:"datasetDiscoveryMetadata"`
}

type catalogItem struct {
	FileName    string `xml:"fileName"`
	Description string `xml:"datasetTitle,omitempty"`
	Product     string `xml:"productSpecification>name"`
	SequenceNo  int64  `xml:"updateNumber"`
	Operation   string `xml:"updateApplicationOperation"`
	IssueDate   string `xml:"issueDate"`
	Size        int64  `xml:"fileSize"`
}

// Package writes every content version of d generated within [from, to] into
// a zip archive with an S-100 catalogue. Withdrawals are listed in the
// catalogue without a file.
func (p *Packager) Package(ctx context.Context, d *models.Dataset, from, to time.Time) ([]byte, error) {
	entries, err := p.log.FindForUUIDDuring(ctx, d.UUID, from, to)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmpty.Msg("no content for dataset " + d.UUID.String())
	}

	cat := catalog{
		Identifier:  uuid.New().String(),
		DateTime:    p.now().UTC().Format(time.RFC3339),
		Description: d.Title,
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		item := catalogItem{
			Description: d.Title,
			Product:     models.DatasetTypeS125,
			SequenceNo:  e.SequenceNo,
			Operation:   string(e.Operation),
			IssueDate:   e.GeneratedAt.UTC().Format(time.RFC3339),
		}
		if len(e.Content) > 0 {
			name := path.Join(datasetDir, d.UUID.String(), fmt.Sprintf("%d.GML", e.SequenceNo))
			w, zerr := zw.Create(path.Join(rootDir, name))
			if zerr != nil {
				return nil, ErrExchangeSet.Err(zerr)
			}
			if _, zerr := w.Write(e.Content); zerr != nil {
				return nil, ErrExchangeSet.Err(zerr)
			}
			item.FileName = name
			item.Size = int64(len(e.Content))
		}
		cat.Datasets = append(cat.Datasets, item)
	}

	raw, xerr := xml.MarshalIndent(cat, "", "  ")
	if xerr != nil {
		return nil, ErrExchangeSet.Err(xerr)
	}
	w, zerr := zw.Create(path.Join(rootDir, catalogFile))
	if zerr != nil {
		return nil, ErrExchangeSet.Err(zerr)
	}
	if _, zerr := w.Write(append([]byte(xml.Header), raw...)); zerr != nil {
		return nil, ErrExchangeSet.Err(zerr)
	}
	if zerr := zw.Close(); zerr != nil {
		return nil, ErrExchangeSet.Err(zerr)
	}
	log.Ctx(ctx).Debug().Str("dataset_id", d.UUID.String()).Int("entries", len(entries)).Int("bytes", buf.Len()).Msg("exchange set packaged")
	return buf.Bytes(), nil
}
