package label

import (
	"fmt"
	"strings"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MasterPrefix starts every master label code
const MasterPrefix = "ETQM"

// MaxVolumes caps one label set; sequences print with three digits and
// stay readable up to four
const MaxVolumes = 9999

// labelNamespace seeds UUIDv5 label ids; changing it changes every code ever printed
var labelNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("nfe-danfe/volume-label"))

// DeriveOptions controls one derivation
type DeriveOptions struct {
	// Count is the number of volumes; zero means the declared transport count
	Count int
	// Consolidate requests a master label over the whole set
	Consolidate bool
	// Hazard overrides detection when set
	Hazard *entity.Hazard
}

// DerivedSet is the output of Derive
type DerivedSet struct {
	Volumes []entity.Volume     `json:"volumes"`
	Master  *entity.MasterLabel `json:"master,omitempty"`
}

// Deriver produces volume and master label records from a normalized invoice
type Deriver struct {
	catalog *HazmatCatalog
	logger  *zap.Logger
}

// NewDeriver creates a new deriver. catalog may be nil.
func NewDeriver(catalog *HazmatCatalog, logger *zap.Logger) *Deriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deriver{catalog: catalog, logger: logger}
}

// LabelID returns the deterministic UUIDv5 for (accessKey, sequence)
func LabelID(accessKey string, sequence int) uuid.UUID {
	return uuid.NewSHA1(labelNamespace, []byte(fmt.Sprintf("%s:%d", accessKey, sequence)))
}

// VolumeCode formats the printed code of volume sequence for an invoice
func VolumeCode(accessKey, number string, sequence int) string {
	return fmt.Sprintf("%s-VOL-%03d-%s", number, sequence, shortID(LabelID(accessKey, sequence)))
}

// MasterCode formats the printed code of the master label for an invoice
func MasterCode(accessKey, number string) string {
	return fmt.Sprintf("%s-%s-%s", MasterPrefix, number, shortID(LabelID(accessKey, 0)))
}

func shortID(id uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// ResolveCount applies the default and minimum to a requested count. Counts
// above MaxVolumes, requested or declared, are refused.
func ResolveCount(inv *entity.Invoice, requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, fmt.Errorf("%w: %d", ErrInvalidCount, requested)
	case requested > MaxVolumes:
		return 0, fmt.Errorf("%w: %d exceeds %d", ErrInvalidCount, requested, MaxVolumes)
	case requested > 0:
		return requested, nil
	}

	declared := inv.Transport.DeclaredCount
	if declared > MaxVolumes {
		return 0, fmt.Errorf("%w: declared %d exceeds %d", ErrInvalidCount, declared, MaxVolumes)
	}
	if declared > 0 {
		return declared, nil
	}
	return 1, nil
}

// Derive builds volumes 1..N and, when requested, the master label. The
// invoice is not modified; identical inputs always yield identical codes.
func (d *Deriver) Derive(inv *entity.Invoice, opts DeriveOptions) (*DerivedSet, error) {
	key := inv.Identification.AccessKey
	if err := utils.ValidateAccessKey(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessKey, err)
	}

	count, err := ResolveCount(inv, opts.Count)
	if err != nil {
		return nil, err
	}

	hazard := opts.Hazard
	if hazard == nil {
		hazard = DetectHazard(inv, d.catalog)
	}

	share := decimal.Zero
	if !inv.Transport.GrossWeight.IsZero() {
		share = inv.Transport.GrossWeight.DivRound(decimal.NewFromInt(int64(count)), 3)
	}

	base := d.template(inv)
	set := &DerivedSet{Volumes: make([]entity.Volume, 0, count)}
	for seq := 1; seq <= count; seq++ {
		v := base
		v.LabelID = LabelID(key, seq).String()
		v.LabelCode = VolumeCode(key, inv.Identification.Number, seq)
		v.Kind = entity.LabelKindVolume
		v.Sequence = seq
		v.TotalInSet = count
		v.Description = fmt.Sprintf("Volume %d/%d", seq, count)
		v.GrossWeight = share
		if hazard != nil {
			h := *hazard
			v.Hazard = &h
		}
		set.Volumes = append(set.Volumes, v)
	}

	if opts.Consolidate {
		set.Master = d.master(inv, base, set.Volumes, hazard)
	}

	d.logger.Info("Volumes derived",
		zap.String("access_key", key),
		zap.String("invoice_number", inv.Identification.Number),
		zap.Int("count", count),
		zap.Bool("hazardous", hazard != nil),
		zap.Bool("master", set.Master != nil))

	return set, nil
}

func (d *Deriver) master(inv *entity.Invoice, base entity.Volume, volumes []entity.Volume, hazard *entity.Hazard) *entity.MasterLabel {
	key := inv.Identification.AccessKey
	m := &entity.MasterLabel{
		Volume:     base,
		ChildCount: len(volumes),
		ChildCodes: make([]string, 0, len(volumes)),
	}
	m.LabelID = LabelID(key, 0).String()
	m.LabelCode = MasterCode(key, inv.Identification.Number)
	m.Kind = entity.LabelKindMaster
	m.Sequence = 0
	m.TotalInSet = len(volumes)
	m.Description = fmt.Sprintf("Etiqueta mae - %d volumes", len(volumes))
	m.GrossWeight = inv.Transport.GrossWeight
	if hazard != nil {
		h := *hazard
		m.Hazard = &h
	}
	for _, v := range volumes {
		m.ChildCodes = append(m.ChildCodes, v.LabelCode)
	}
	return m
}

// template copies the denormalized invoice fields shared by every label
func (d *Deriver) template(inv *entity.Invoice) entity.Volume {
	v := entity.Volume{
		AccessKey:       inv.Identification.AccessKey,
		InvoiceNumber:   inv.Identification.Number,
		PurchaseOrder:   inv.PurchaseOrder,
		SenderName:      inv.Emitter.LegalName,
		SenderCity:      inv.Emitter.City,
		SenderRegion:    inv.Emitter.Region,
		ReceiverName:    inv.Recipient.LegalName,
		ReceiverCity:    inv.Recipient.City,
		ReceiverRegion:  inv.Recipient.Region,
		ReceiverAddress: formatAddress(inv.Recipient),
		Species:         inv.Transport.Species(),
	}
	if inv.Transport.Carrier != nil {
		v.CarrierName = inv.Transport.Carrier.LegalName
	}
	return v
}

func formatAddress(p entity.Party) string {
	parts := make([]string, 0, 3)
	if p.Street != "" {
		street := p.Street
		if p.Number != "" {
			street += ", " + p.Number
		}
		parts = append(parts, street)
	}
	if p.Complement != "" {
		parts = append(parts, p.Complement)
	}
	if p.District != "" {
		parts = append(parts, p.District)
	}
	return strings.Join(parts, " - ")
}
