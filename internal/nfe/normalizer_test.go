package nfe

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/garyjia/nfe-danfe/internal/nfe/nfetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalizer_Envelopes(t *testing.T) {
	n := NewNormalizer(zap.NewNop())

	bare, err := n.Parse(bytes.NewReader(nfetest.XML(nfetest.Options{Items: 2, Volumes: 1})))
	require.NoError(t, err)
	wrapped, err := n.Parse(bytes.NewReader(nfetest.XML(nfetest.Options{Items: 2, Volumes: 1, Envelope: true})))
	require.NoError(t, err)

	assert.Equal(t, bare.Identification.AccessKey, wrapped.Identification.AccessKey)
	assert.Equal(t, bare.Emitter, wrapped.Emitter)
	assert.Len(t, wrapped.Items, 2)
	assert.Empty(t, bare.Identification.Protocol)
	assert.Equal(t, "135240000012345", wrapped.Identification.Protocol)
	require.NotNil(t, wrapped.Identification.ProtocolAt)
}

func TestNormalizer_Fields(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	inv, err := n.Parse(bytes.NewReader(nfetest.XML(nfetest.Options{
		Number:  4321,
		Items:   3,
		Volumes: 2,
		Signed:  true,
		InfCpl:  "Entrega agendada. Pedido: 45-120-9",
	})))
	require.NoError(t, err)

	assert.True(t, inv.AccessKeyValid)
	assert.Equal(t, nfetest.KeyFor(4321), inv.Identification.AccessKey)
	assert.Equal(t, "4321", inv.Identification.Number)
	assert.Equal(t, "VENDA DE MERCADORIA", inv.Identification.OperationNature)

	assert.Equal(t, "11222333000181", inv.Emitter.TaxID)
	assert.Equal(t, "01310100", inv.Emitter.PostalCode)
	assert.Equal(t, "SP", inv.Emitter.Region)
	assert.Equal(t, "98765432000198", inv.Recipient.TaxID)
	assert.Equal(t, "Galpao 3", inv.Recipient.Complement)

	require.Len(t, inv.Items, 3)
	for i, item := range inv.Items {
		assert.Equal(t, i+1, item.Index)
		assert.Equal(t, "000", item.CST)
		assert.True(t, item.ICMS.Value.Equal(decimal.RequireFromString("1.80")))
	}

	assert.True(t, inv.Totals.DocumentTotal.Equal(decimal.RequireFromString("30")))
	assert.True(t, inv.Totals.ICMSValue.Equal(decimal.RequireFromString("5.40")))
	assert.True(t, inv.CheckTotals())

	assert.Equal(t, "0", inv.Transport.FreightMode)
	assert.Equal(t, "0-Por conta do Emit", inv.Transport.FreightModeLabel)
	require.NotNil(t, inv.Transport.Carrier)
	assert.Equal(t, "Transportes Rapidos", inv.Transport.Carrier.LegalName)
	assert.Equal(t, 2, inv.Transport.DeclaredCount)
	assert.Equal(t, "CAIXA", inv.Transport.Species())
	assert.True(t, inv.Transport.GrossWeight.Equal(decimal.RequireFromString("20.5")))

	require.NotNil(t, inv.Billing)
	require.Len(t, inv.Billing.Installments, 1)
	require.NotNil(t, inv.Billing.Installments[0].DueDate)
	assert.Equal(t, time.March, inv.Billing.Installments[0].DueDate.Month())

	assert.Equal(t, "451209", inv.PurchaseOrder)
	assert.Equal(t, "vFL68WETQ+mvj1aJAMDx+oVi928=", inv.SignatureDigest)
}

func TestNormalizer_IssueDateKeepsOffset(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	inv, err := n.Parse(bytes.NewReader(nfetest.XML(nfetest.Options{Items: 1})))
	require.NoError(t, err)

	require.NotNil(t, inv.Identification.IssuedAt)
	_, offset := inv.Identification.IssuedAt.Zone()
	assert.Equal(t, -3*3600, offset)
	assert.Equal(t, 14, inv.Identification.IssuedAt.Hour())
	assert.Equal(t, "2024-02-10T14:30:00-03:00", inv.Identification.IssuedAtRaw)
}

func TestNormalizer_InvalidKeyIsFlagged(t *testing.T) {
	n := NewNormalizer(zap.NewNop())

	for _, key := range []string{"-", "12345", strings.Repeat("9", 43) + "X"} {
		inv, err := n.Parse(bytes.NewReader(nfetest.XML(nfetest.Options{AccessKey: key, Items: 1})))
		require.NoError(t, err, key)
		assert.False(t, inv.AccessKeyValid, key)
	}
}

func TestNormalizer_ProtocolKeyFallback(t *testing.T) {
	doc := `<nfeProc><NFe><infNFe><ide><nNF>7</nNF></ide></infNFe></NFe>` +
		`<protNFe><infProt><chNFe>` + nfetest.KeyFor(7) + `</chNFe><nProt>1</nProt></infProt></protNFe></nfeProc>`

	inv, err := NewNormalizer(nil).Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, nfetest.KeyFor(7), inv.Identification.AccessKey)
	assert.True(t, inv.AccessKeyValid)
}

func TestNormalizer_ZeroItemsAndMissingFields(t *testing.T) {
	doc := `<infNFe Id="NFe` + nfetest.KeyFor(1) + `"><ide><nNF>1</nNF></ide></infNFe>`

	inv, err := NewNormalizer(nil).Parse(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Empty(t, inv.Items)
	assert.True(t, inv.Totals.DocumentTotal.IsZero())
	assert.Nil(t, inv.Billing)
	assert.Nil(t, inv.Transport.Carrier)
	assert.Empty(t, inv.PurchaseOrder)
	assert.True(t, inv.CheckTotals())
}

func TestNormalizer_NotAnInvoice(t *testing.T) {
	_, err := NewNormalizer(nil).Parse(strings.NewReader(`<html><body/></html>`))
	assert.ErrorIs(t, err, ErrNotInvoice)

	_, err = NewNormalizer(nil).Parse(strings.NewReader(`<NFe><infNFe>`))
	assert.ErrorIs(t, err, ErrMalformedXML)
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1234.56", "1234.56"},
		{"1234,56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"1.234.567", "1234567"},
		{"R$ 10,00", "10"},
		{"", "0"},
		{"  ", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}

	_, err := ParseMoney("abc")
	assert.Error(t, err)
}

func TestParseDateTime(t *testing.T) {
	tm, ok := ParseDateTime("2024-02-10T14:30:00-03:00")
	require.True(t, ok)
	assert.Equal(t, "2024-02-10T14:30:00-03:00", tm.Format(time.RFC3339))

	tm, ok = ParseDateTime("2024-03-10")
	require.True(t, ok)
	assert.Equal(t, 10, tm.Day())

	_, ok = ParseDateTime("10/03/2024")
	assert.False(t, ok)
	_, ok = ParseDateTime("")
	assert.False(t, ok)
}

func TestScanPurchaseOrder(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Pedido: 12345", "12345"},
		{"Número do Pedido: 778-22", "77822"},
		{"ref. Pedido Venda: 998", "998"},
		{"PEDIDO 4455 entrega urgente", "4455"},
		{"Sem referencia", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ScanPurchaseOrder(tt.text), tt.text)
	}
}

func TestNormalizer_DeclaredCountSaturates(t *testing.T) {
	n := NewNormalizer(zap.NewNop())

	doc := string(nfetest.XML(nfetest.Options{Items: 1, Volumes: 999999999999999}))
	// a second block of the same size must not overflow the sum
	vol := doc[strings.Index(doc, "<vol>"):strings.Index(doc, "</vol>")+len("</vol>")]
	doc = strings.Replace(doc, vol, vol+vol, 1)

	inv, err := n.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Len(t, inv.Transport.Volumes, 2)
	assert.Equal(t, math.MaxInt32, inv.Transport.DeclaredCount)

	negative := strings.Replace(string(nfetest.XML(nfetest.Options{Items: 1, Volumes: 3})),
		"<qVol>3</qVol>", "<qVol>-3</qVol>", 1)
	inv, err = n.Parse(strings.NewReader(negative))
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Transport.DeclaredCount)
}

func TestNormalizer_WarnsOnBadEmitterCNPJ(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	n := NewNormalizer(zap.New(core))

	inv, err := n.Parse(bytes.NewReader(nfetest.XML(nfetest.Options{Items: 1})))
	require.NoError(t, err)
	assert.Equal(t, "11222333000181", inv.Emitter.TaxID)
	assert.Equal(t, 0, logs.FilterMessage("Emitter CNPJ is invalid").Len())

	doc := strings.Replace(string(nfetest.XML(nfetest.Options{Items: 1})),
		"<CNPJ>11.222.333/0001-81</CNPJ>", "<CNPJ>11.222.333/0001-82</CNPJ>", 1)
	inv, err = n.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "11222333000182", inv.Emitter.TaxID)
	assert.Equal(t, 1, logs.FilterMessage("Emitter CNPJ is invalid").Len())
}
