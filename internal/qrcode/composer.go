package qrcode

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
	"net/url"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/pkg/utils"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAccessKey is returned when the invoice key is absent or not 44 digits
	ErrInvalidAccessKey = errors.New("invalid access key for qr composition")
	// ErrEncode is returned when the symbol cannot be produced
	ErrEncode = errors.New("failed to encode qr symbol")
)

// Printed side length bounds. The authority accepts nothing below MinSizeMM;
// MaxSizeMM is what the DANFE footer slot holds.
const (
	MinSizeMM = 25.0
	MaxSizeMM = 27.0
)

// Config holds the composer settings
type Config struct {
	BaseURL     string
	Version     string
	Environment string // overrides the invoice tpAmb when set
	TokenID     string
	CSC         string
	DPI         int
	SizeMM      float64
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://www.homologacao.nfce.fazenda.sp.gov.br/qrcode",
		Version: "100",
		TokenID: "000001",
		DPI:     300,
		SizeMM:  MinSizeMM,
	}
}

// Artifact is the composed QR payload and its rendered symbol
type Artifact struct {
	URL    string
	Params string
	Hash   string
	PNG    []byte
	SizePx int
	SizeMM float64
}

// Composer builds the authority QR code for an invoice
type Composer struct {
	cfg    Config
	logger *zap.Logger
}

// NewComposer creates a new composer, filling unset fields from DefaultConfig
func NewComposer(cfg Config, logger *zap.Logger) *Composer {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.TokenID == "" {
		cfg.TokenID = def.TokenID
	}
	if cfg.DPI <= 0 {
		cfg.DPI = def.DPI
	}
	if cfg.SizeMM < MinSizeMM {
		cfg.SizeMM = MinSizeMM
	}
	if cfg.SizeMM > MaxSizeMM {
		cfg.SizeMM = MaxSizeMM
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{cfg: cfg, logger: logger}
}

// Params builds the ordered parameter string without the hash
func (c *Composer) Params(inv *entity.Invoice) (string, error) {
	key := inv.Identification.AccessKey
	if !utils.IsAccessKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccessKey, key)
	}

	env := c.cfg.Environment
	if env == "" {
		env = inv.Identification.Environment
	}
	if env == "" {
		env = entity.EnvironmentProduction
	}

	p := paramList{}
	p.add("chNFe", key)
	p.add("nVersao", c.cfg.Version)
	p.add("tpAmb", env)
	// empty for an unidentified consumer
	p.add("cDest", inv.Recipient.TaxID)
	p.add("dhEmi", hex.EncodeToString([]byte(inv.Identification.IssuedAtRaw)))
	p.add("vNF", inv.Totals.DocumentTotal.StringFixed(2))
	p.add("vICMS", inv.Totals.ICMSValue.StringFixed(2))
	p.add("digVal", hex.EncodeToString([]byte(DigestValue(inv))))
	p.add("cIdToken", c.cfg.TokenID)
	return p.String(), nil
}

// Compose builds the URL, its hash and the PNG symbol
func (c *Composer) Compose(inv *entity.Invoice) (*Artifact, error) {
	params, err := c.Params(inv)
	if err != nil {
		c.logger.Warn("QR composition refused",
			zap.String("invoice_number", inv.Identification.Number),
			zap.Error(err))
		return nil, err
	}

	hash := Hash(params, c.cfg.CSC)
	link := c.cfg.BaseURL + "?" + params + "&cHashQRCode=" + hash

	img, sizePx, err := c.render(link)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("QR composed",
		zap.String("access_key", inv.Identification.AccessKey),
		zap.Int("size_px", sizePx))

	return &Artifact{
		URL:    link,
		Params: params,
		Hash:   hash,
		PNG:    img,
		SizePx: sizePx,
		SizeMM: c.cfg.SizeMM,
	}, nil
}

// Hash returns the upper-case hex SHA-1 of params followed by the CSC
func Hash(params, csc string) string {
	sum := sha1.Sum([]byte(params + csc))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// DigestValue returns the signature digest, or a deterministic stand-in
// derived from the access key for unsigned documents
func DigestValue(inv *entity.Invoice) string {
	if inv.SignatureDigest != "" {
		return inv.SignatureDigest
	}
	sum := sha1.Sum([]byte(inv.Identification.AccessKey))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// MinPixels returns the pixel side length for sizeMM at dpi
func MinPixels(sizeMM float64, dpi int) int {
	return int(math.Ceil(sizeMM / 25.4 * float64(dpi)))
}

func (c *Composer) render(content string) ([]byte, int, error) {
	return Symbol(content, MinPixels(c.cfg.SizeMM, c.cfg.DPI))
}

// Symbol encodes content as a level-M UTF-8 QR symbol, scaled to at least
// side pixels, and returns the PNG bytes with the final side length
func Symbol(content string, side int) ([]byte, int, error) {
	code, err := qr.Encode(content, qr.M, qr.Unicode)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	if w := code.Bounds().Dx(); w > side {
		side = w
	}

	scaled, err := barcode.Scale(code, side, side)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	// 8-bit gray keeps the PNG readable by PDF writers that reject 16-bit depth
	bounds := scaled.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, scaled, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), side, nil
}

type paramList []string

func (p *paramList) add(name, value string) {
	*p = append(*p, name+"="+url.QueryEscape(value))
}

func (p paramList) String() string {
	return strings.Join(p, "&")
}
