package danfe

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/nfe"
	"github.com/garyjia/nfe-danfe/internal/nfe/nfetest"
	"github.com/garyjia/nfe-danfe/internal/qrcode"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleInvoice(t *testing.T, opts nfetest.Options) *entity.Invoice {
	t.Helper()
	inv, err := nfe.NewNormalizer(zap.NewNop()).Parse(bytes.NewReader(nfetest.XML(opts)))
	require.NoError(t, err)
	return inv
}

func sampleQR(t *testing.T, inv *entity.Invoice) *qrcode.Artifact {
	t.Helper()
	art, err := qrcode.NewComposer(qrcode.Config{CSC: "TEST"}, zap.NewNop()).Compose(inv)
	require.NoError(t, err)
	return art
}

func TestPaginate(t *testing.T) {
	items := func(n int) []entity.LineItem { return make([]entity.LineItem, n) }

	assert.Len(t, Paginate(nil), 1)
	assert.Len(t, Paginate(items(FirstPageRows)), 1)
	assert.Len(t, Paginate(items(FirstPageRows+1)), 2)

	pages := Paginate(items(200))
	total := 0
	for i, p := range pages {
		if i == 0 {
			assert.LessOrEqual(t, len(p), FirstPageRows)
		} else {
			assert.LessOrEqual(t, len(p), ContinuationRows)
		}
		total += len(p)
	}
	assert.Equal(t, 200, total)
}

func TestRender_ContinuationPages(t *testing.T) {
	inv := sampleInvoice(t, nfetest.Options{Items: 200, Volumes: 1, Envelope: true})
	c := newRecordingCanvas(PageA4).(*recordingCanvas)

	err := NewRenderer(nil, zap.NewNop()).Draw(c, inv, sampleQR(t, inv))
	require.NoError(t, err)

	require.Greater(t, len(c.pages), 1)
	for i, p := range c.pages {
		assert.True(t, p.contains("DANFE"), "page %d header", i+1)
		assert.True(t, p.contains(FormatAccessKey(inv.Identification.AccessKey)), "page %d key", i+1)
		assert.True(t, p.contains(fmt.Sprintf("FOLHA %d/%d", i+1, len(c.pages))), "page %d folio", i+1)

		if i == 0 {
			assert.True(t, p.contains("DESTINATÁRIO / REMETENTE"))
			assert.True(t, p.contains("Distribuidora Destino SA"))
			assert.False(t, p.contains(ContinuationMarker))
			assert.Len(t, p.images, 1)
		} else {
			assert.False(t, p.contains("DESTINATÁRIO / REMETENTE"), "page %d repeats parties", i+1)
			assert.False(t, p.contains("Distribuidora Destino SA"), "page %d repeats parties", i+1)
			assert.True(t, p.contains(ContinuationMarker))
			assert.Empty(t, p.images)
		}
	}

	// every item printed exactly once
	for _, n := range []int{1, 100, 200} {
		count := 0
		for _, p := range c.pages {
			for _, text := range p.texts {
				if text == fmt.Sprintf("Produto %d", n) {
					count++
				}
			}
		}
		assert.Equal(t, 1, count, "Produto %d", n)
	}
}

func TestRender_ItemTotalsWithinDocumentTotal(t *testing.T) {
	inv := sampleInvoice(t, nfetest.Options{Items: 60})
	c := newRecordingCanvas(PageA4).(*recordingCanvas)
	require.NoError(t, NewRenderer(nil, nil).Draw(c, inv, nil))

	// V.TOTAL is the ninth column
	totalX := margin
	for _, col := range itemColumns[:8] {
		totalX += col.width
	}

	sum := decimal.Zero
	for _, p := range c.pages {
		for _, cell := range p.cells {
			if cell.x == totalX && cell.w == itemColumns[8].width && cell.text != itemColumns[8].title {
				v, err := nfe.ParseMoney(cell.text)
				require.NoError(t, err)
				sum = sum.Add(v)
			}
		}
	}

	assert.True(t, sum.Equal(decimal.RequireFromString("600")), sum.String())
	assert.True(t, sum.Sub(inv.Totals.DocumentTotal).LessThanOrEqual(entity.TotalsTolerance))
	assert.True(t, c.pages[0].contains("600,00"))
}

func TestRender_PlaceholdersForMissingValues(t *testing.T) {
	inv := sampleInvoice(t, nfetest.Options{Items: 1})
	inv.Billing = nil
	inv.Transport.Carrier = nil
	c := newRecordingCanvas(PageA4).(*recordingCanvas)

	require.NoError(t, NewRenderer(nil, nil).Draw(c, inv, nil))

	page := c.pages[0]
	placeholders := 0
	for _, text := range page.texts {
		if text == NotAvailable {
			placeholders++
		}
	}
	// protocol, departure date, phone, billing, carrier name and CNPJ, QR box at least
	assert.GreaterOrEqual(t, placeholders, 7)
	assert.Empty(t, page.images)
}

func TestRender_InvalidKey(t *testing.T) {
	inv := sampleInvoice(t, nfetest.Options{AccessKey: "-", Items: 1})
	c := newRecordingCanvas(PageA4).(*recordingCanvas)

	out, err := NewRenderer(newRecordingCanvas, nil).Render(inv, nil)
	assert.ErrorIs(t, err, ErrInvalidAccessKey)
	assert.Nil(t, out)

	assert.ErrorIs(t, NewRenderer(nil, nil).Draw(c, inv, nil), ErrInvalidAccessKey)
	assert.Empty(t, c.pages)
}

func TestRender_PDFOutput(t *testing.T) {
	inv := sampleInvoice(t, nfetest.Options{Items: 40, Volumes: 2, Envelope: true, InfCpl: "Pedido: 99 - Entrega em horário comercial"})

	out, err := NewRenderer(nil, zap.NewNop()).Render(inv, sampleQR(t, inv))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRender_ZeroItems(t *testing.T) {
	inv := sampleInvoice(t, nfetest.Options{})
	c := newRecordingCanvas(PageA4).(*recordingCanvas)

	require.NoError(t, NewRenderer(nil, nil).Draw(c, inv, nil))
	assert.Len(t, c.pages, 1)
}

func TestRender_QRStaysInsideFooterSlot(t *testing.T) {
	inv := sampleInvoice(t, nfetest.Options{Items: 1})
	qr := sampleQR(t, inv)
	qr.SizeMM = 60

	c := newRecordingCanvas(PageA4).(*recordingCanvas)
	require.NoError(t, NewRenderer(nil, nil).Draw(c, inv, qr))

	require.Len(t, c.pages[0].placed, 1)
	img := c.pages[0].placed[0]
	assert.Equal(t, qrcode.MaxSizeMM, img.w)
	assert.Equal(t, img.w, img.h)
	slot := margin + contentWidth - 32
	assert.GreaterOrEqual(t, img.x, slot)
	assert.LessOrEqual(t, img.x+img.w, slot+32)
	assert.LessOrEqual(t, img.y+img.h, pageBottom-3.5)
}
