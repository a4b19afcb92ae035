package pipeline

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/garyjia/nfe-danfe/internal/label"
	"github.com/garyjia/nfe-danfe/internal/nfe"
	"github.com/garyjia/nfe-danfe/internal/nfe/nfetest"
	"github.com/garyjia/nfe-danfe/internal/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPipeline() *Pipeline {
	return NewDefault(qrcode.Config{CSC: "TEST"}, nil, zap.NewNop())
}

func TestProcess_Success(t *testing.T) {
	p := newTestPipeline()
	doc := nfetest.XML(nfetest.Options{Items: 3, Volumes: 2, Envelope: true})

	res, err := p.Process(bytes.NewReader(doc), Options{Document: true, LabelSheet: true,
		Labels: label.DeriveOptions{Consolidate: true}})
	require.NoError(t, err)

	assert.Equal(t, nfetest.KeyFor(1234), res.Invoice.Identification.AccessKey)
	require.NotNil(t, res.QR)
	assert.Contains(t, res.QR.URL, "chNFe="+nfetest.KeyFor(1234))
	assert.Len(t, res.Labels.Volumes, 2)
	assert.NotNil(t, res.Labels.Master)
	assert.True(t, bytes.HasPrefix(res.Document, []byte("%PDF-")))
	assert.True(t, bytes.HasPrefix(res.LabelSheet, []byte("%PDF-")))
}

func TestProcess_OnlyRequestedOutputs(t *testing.T) {
	res, err := newTestPipeline().Process(bytes.NewReader(nfetest.XML(nfetest.Options{Items: 1})), Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Document)
	assert.Nil(t, res.LabelSheet)
	assert.Len(t, res.Labels.Volumes, 1)
}

func TestProcess_StageErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   []byte
		opts  Options
		stage Stage
		kind  Kind
		is    error
	}{
		{
			name:  "unparseable xml",
			doc:   []byte(`<NFe><infNFe>`),
			opts:  DefaultOptions(),
			stage: StageParse,
			kind:  KindMalformedInput,
			is:    nfe.ErrMalformedXML,
		},
		{
			name:  "not an invoice",
			doc:   []byte(`<catalog><book/></catalog>`),
			opts:  DefaultOptions(),
			stage: StageNormalize,
			kind:  KindMalformedInput,
			is:    nfe.ErrNotInvoice,
		},
		{
			name:  "malformed access key",
			doc:   nfetest.XML(nfetest.Options{AccessKey: "35240211222333", Items: 1}),
			opts:  DefaultOptions(),
			stage: StageCompose,
			kind:  KindInvalidAccessKey,
			is:    qrcode.ErrInvalidAccessKey,
		},
		{
			name:  "missing access key",
			doc:   nfetest.XML(nfetest.Options{AccessKey: "-", Items: 1}),
			opts:  DefaultOptions(),
			stage: StageCompose,
			kind:  KindInvalidAccessKey,
			is:    qrcode.ErrInvalidAccessKey,
		},
		{
			name:  "negative volume count",
			doc:   nfetest.XML(nfetest.Options{Items: 1}),
			opts:  Options{Labels: label.DeriveOptions{Count: -2}},
			stage: StageDerive,
			kind:  KindInvalidRequest,
			is:    label.ErrInvalidCount,
		},
		{
			name:  "declared volume count too large",
			doc:   nfetest.XML(nfetest.Options{Items: 1, Volumes: 999999999999999}),
			opts:  DefaultOptions(),
			stage: StageDerive,
			kind:  KindInvalidRequest,
			is:    label.ErrInvalidCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestPipeline().Process(bytes.NewReader(tt.doc), tt.opts)
			require.Error(t, err)
			assert.Nil(t, res)

			var se *StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.stage, se.Stage)
			assert.Equal(t, tt.kind, se.Kind)
			assert.ErrorIs(t, err, tt.is)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(StageRender, nil))

	inner := Wrap(StageParse, nfe.ErrMalformedXML)
	assert.Same(t, inner, Wrap(StagePersist, inner))

	persist := Wrap(StagePersist, errors.New("disk full"))
	assert.Equal(t, KindPersistFailure, KindOf(persist))
	assert.True(t, strings.HasPrefix(persist.Error(), "persist failed (PersistFailure)"))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
