// Package nfetest builds synthetic NFe documents for tests of the pipeline stages.
package nfetest

import (
	"fmt"
	"strings"

	"github.com/garyjia/nfe-danfe/pkg/utils"
	"github.com/shopspring/decimal"
)

// Options shapes a synthetic invoice
type Options struct {
	Number    int
	AccessKey string // overrides the generated key; use "-" for none
	Items     int
	Volumes   int
	Envelope  bool // wrap in nfeProc with an authorization protocol
	Hazardous bool
	InfCpl    string
	Signed    bool
}

// KeyFor returns a well-formed access key with a valid check digit for invoice number n
func KeyFor(n int) string {
	key43 := fmt.Sprintf("35240211222333000181550010%08d1%08d", n, n)
	dv, err := utils.AccessKeyCheckDigit(key43)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%s%d", key43, dv)
}

// XML renders the synthetic invoice
func XML(o Options) []byte {
	if o.Number == 0 {
		o.Number = 1234
	}
	key := o.AccessKey
	switch key {
	case "":
		key = KeyFor(o.Number)
	case "-":
		key = ""
	}

	itemValue := decimal.RequireFromString("10.00")
	itemICMS := decimal.RequireFromString("1.80")
	total := itemValue.Mul(decimal.NewFromInt(int64(o.Items)))
	icms := itemICMS.Mul(decimal.NewFromInt(int64(o.Items)))

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	if o.Envelope {
		b.WriteString(`<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">`)
	}
	b.WriteString(`<NFe xmlns="http://www.portalfiscal.inf.br/nfe">`)
	if key != "" {
		fmt.Fprintf(&b, `<infNFe Id="NFe%s" versao="4.00">`, key)
	} else {
		b.WriteString(`<infNFe versao="4.00">`)
	}
	fmt.Fprintf(&b, `<ide><cUF>35</cUF><natOp>VENDA DE MERCADORIA</natOp><mod>55</mod><serie>1</serie>`+
		`<nNF>%d</nNF><dhEmi>2024-02-10T14:30:00-03:00</dhEmi><tpNF>1</tpNF><tpAmb>2</tpAmb></ide>`, o.Number)
	b.WriteString(`<emit><CNPJ>11.222.333/0001-81</CNPJ><xNome>Quimica Exemplo Ltda</xNome>` +
		`<enderEmit><xLgr>Rua das Industrias</xLgr><nro>100</nro><xBairro>Distrito Industrial</xBairro>` +
		`<cMun>3550308</cMun><xMun>Sao Paulo</xMun><UF>SP</UF><CEP>01310-100</CEP><fone>1133334444</fone></enderEmit>` +
		`<IE>123456789110</IE></emit>`)
	b.WriteString(`<dest><CNPJ>98.765.432/0001-98</CNPJ><xNome>Distribuidora Destino SA</xNome>` +
		`<enderDest><xLgr>Av Brasil</xLgr><nro>2000</nro><xCpl>Galpao 3</xCpl><xBairro>Centro</xBairro>` +
		`<cMun>3304557</cMun><xMun>Rio de Janeiro</xMun><UF>RJ</UF><CEP>20040-002</CEP></enderDest></dest>`)

	for i := 1; i <= o.Items; i++ {
		infAd := ""
		if o.Hazardous && i == 1 {
			infAd = `<infAdProd>ONU 1203 RISCO 33 CLASSE 3</infAdProd>`
		}
		fmt.Fprintf(&b, `<det nItem="%d"><prod><cProd>P%04d</cProd><xProd>Produto %d</xProd><NCM>27101259</NCM>`+
			`<CFOP>5102</CFOP><uCom>UN</uCom><qCom>1.0000</qCom><vUnCom>10.00</vUnCom><vProd>10.00</vProd></prod>`+
			`<imposto><ICMS><ICMS00><orig>0</orig><CST>00</CST><vBC>10.00</vBC><pICMS>18.00</pICMS><vICMS>1.80</vICMS></ICMS00></ICMS></imposto>%s</det>`,
			i, i, i, infAd)
	}

	fmt.Fprintf(&b, `<total><ICMSTot><vBC>%s</vBC><vICMS>%s</vICMS><vProd>%s</vProd><vFrete>0.00</vFrete><vNF>%s</vNF></ICMSTot></total>`,
		total.StringFixed(2), icms.StringFixed(2), total.StringFixed(2), total.StringFixed(2))

	b.WriteString(`<transp><modFrete>0</modFrete><transporta><CNPJ>33.000.167/0001-01</CNPJ><xNome>Transportes Rapidos</xNome>` +
		`<xMun>Campinas</xMun><UF>SP</UF></transporta>`)
	if o.Volumes > 0 {
		fmt.Fprintf(&b, `<vol><qVol>%d</qVol><esp>CAIXA</esp><pesoL>%d.000</pesoL><pesoB>%d.500</pesoB></vol>`,
			o.Volumes, o.Volumes*10, o.Volumes*10)
	}
	b.WriteString(`</transp>`)

	b.WriteString(`<cobr><fat><nFat>001</nFat><vOrig>` + total.StringFixed(2) + `</vOrig><vLiq>` + total.StringFixed(2) + `</vLiq></fat>` +
		`<dup><nDup>001</nDup><dVenc>2024-03-10</dVenc><vDup>` + total.StringFixed(2) + `</vDup></dup></cobr>`)

	infCpl := o.InfCpl
	if o.Hazardous && infCpl == "" {
		infCpl = "Produto perigoso ONU 1203"
	}
	if infCpl != "" {
		fmt.Fprintf(&b, `<infAdic><infCpl>%s</infCpl></infAdic>`, infCpl)
	}
	b.WriteString(`</infNFe>`)

	if o.Signed {
		b.WriteString(`<Signature xmlns="http://www.w3.org/2000/09/xmldsig#"><SignedInfo><Reference URI="#NFe` + key + `">` +
			`<DigestValue>vFL68WETQ+mvj1aJAMDx+oVi928=</DigestValue></Reference></SignedInfo></Signature>`)
	}
	b.WriteString(`</NFe>`)

	if o.Envelope {
		fmt.Fprintf(&b, `<protNFe versao="4.00"><infProt><tpAmb>2</tpAmb><chNFe>%s</chNFe>`+
			`<dhRecbto>2024-02-10T14:31:05-03:00</dhRecbto><nProt>135240000012345</nProt><cStat>100</cStat></infProt></protNFe>`, key)
		b.WriteString(`</nfeProc>`)
	}
	return []byte(b.String())
}
