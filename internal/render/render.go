package render

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/nftwatch/nftwatch/internal/events"
	"github.com/nftwatch/nftwatch/internal/metadata"
)

const (
	DropsPerXRP     = 1_000_000
	AbbrLength      = 5
	UnknownMintName = "Unknown NFT"
	timeLayout      = "2006-01-02 15:04:05"
)

const DefaultSaleTemplate = `🚀 <b>NEW NFT BUY!</b>

🏷️ <b>ITEM:</b> <a href="{{.NFTLink}}">{{.ItemName}}</a>
💰 <b>SOLD FOR:</b> {{.Price}}
🔄 <b>SELLER:</b> <a href="{{.SellerLink}}">{{.SellerShort}}</a>
➡️ <b>BUYER:</b> <a href="{{.BuyerLink}}">{{.BuyerShort}}</a>
⏱️ <b>TRANSACTION TIME:</b> {{.Time}}
📑 <b>TRANSACTION ID:</b> <a href="{{.TxLink}}">{{.TxShort}}</a>`

const DefaultMintTemplate = `🚀 <b>NEW NFT MINT!</b>
{{if .CollectionName}}
🖼️ <b>COLLECTION NAME:</b> {{.CollectionName}}{{end}}
🏷️ <b>ITEM:</b> <a href="{{.NFTLink}}">{{.ItemName}}</a>
⏱️ <b>TRANSACTION TIME:</b> {{.Time}}
📑 <b>TRANSACTION ID:</b> <a href="{{.TxLink}}">{{.TxShort}}</a>`

// Links holds the explorer URL prefixes used in messages.
type Links struct {
	NFT     string
	Account string
	Tx      string
}

var DefaultLinks = Links{
	NFT:     "https://bithomp.com/en/nft/",
	Account: "https://xrpscan.com/account/",
	Tx:      "https://bithomp.com/explorer/",
}

type Options struct {
	CollectionName   string
	SaleTemplatePath string
	MintTemplatePath string
	Links            Links
}

// View is the data every message template is executed with. html/template
// escapes each field for the context it is used in.
type View struct {
	CollectionName string
	ItemName       string
	NFTID          string
	NFTLink        string
	Price          string
	SellerLink     string
	SellerShort    string
	BuyerLink      string
	BuyerShort     string
	Time           string
	TxLink         string
	TxShort        string
	ImageURL       string
}

type Renderer struct {
	sale  *template.Template
	mint  *template.Template
	opts  Options
	links Links
}

func New(opts Options) (*Renderer, error) {
	sale, err := load("sale", opts.SaleTemplatePath, DefaultSaleTemplate)
	if err != nil {
		return nil, err
	}
	mint, err := load("mint", opts.MintTemplatePath, DefaultMintTemplate)
	if err != nil {
		return nil, err
	}
	links := opts.Links
	if links == (Links{}) {
		links = DefaultLinks
	}
	return &Renderer{sale: sale, mint: mint, opts: opts, links: links}, nil
}

func load(name, path, fallback string) (*template.Template, error) {
	text := fallback
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", name, err)
		}
		text = string(b)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	return tmpl, nil
}

// Render builds the message text for ev. md supplies the display name when
// one was resolved.
func (r *Renderer) Render(ev events.Event, md metadata.Metadata) (string, error) {
	view := r.View(ev, md)
	tmpl := r.sale
	if ev.Kind == events.KindMint {
		tmpl = r.mint
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render %s message: %w", ev.Kind, err)
	}
	return buf.String(), nil
}

func (r *Renderer) View(ev events.Event, md metadata.Metadata) View {
	nftID := ev.NFTokenID()
	v := View{
		CollectionName: r.opts.CollectionName,
		ItemName:       DisplayName(ev, md),
		NFTID:          nftID,
		NFTLink:        link(r.links.NFT, nftID),
		Time:           FormatTime(ev.OccurredAt),
		TxLink:         link(r.links.Tx, ev.Hash),
		TxShort:        Abbr(ev.Hash),
		ImageURL:       md.ImageURL,
	}
	if ev.Sale != nil {
		v.Price = FormatPrice(ev.Sale.PriceDrops)
		v.SellerLink = link(r.links.Account, ev.Sale.Seller)
		v.SellerShort = Abbr(ev.Sale.Seller)
		v.BuyerLink = link(r.links.Account, ev.Sale.Buyer)
		v.BuyerShort = Abbr(ev.Sale.Buyer)
	}
	return v
}

// DisplayName is the resolved name, or the fallback for the event's kind:
// the abbreviated token id for sales and UnknownMintName for mints.
func DisplayName(ev events.Event, md metadata.Metadata) string {
	if md.Name != "" {
		return md.Name
	}
	if ev.Kind == events.KindMint {
		return UnknownMintName
	}
	return Abbr(ev.NFTokenID())
}

// FormatPrice renders drops as whole XRP when exact, otherwise with two
// decimals.
func FormatPrice(drops int64) string {
	if drops%DropsPerXRP == 0 {
		return fmt.Sprintf("%d XRP", drops/DropsPerXRP)
	}
	return fmt.Sprintf("%.2f XRP", float64(drops)/DropsPerXRP)
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.UTC().Format(timeLayout)
}

func Abbr(text string) string {
	if text == "" {
		return "N/A"
	}
	if len(text) > AbbrLength {
		return text[:AbbrLength] + "..."
	}
	return text
}

func link(prefix, id string) string {
	if id == "" {
		return ""
	}
	return prefix + id
}
