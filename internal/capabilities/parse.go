package capabilities

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"

	"github.com/i474232898/weather-time-animator/internal/timeline"
	"github.com/i474232898/weather-time-animator/internal/timerange"
)

// Parser turns a raw capability document into a Document.
type Parser interface {
	Parse(data []byte) (*Document, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(data []byte) (*Document, error)

func (f ParserFunc) Parse(data []byte) (*Document, error) { return f(data) }

// DefaultParsers returns the parsers for the service kinds supported out of
// the box, keyed by lower-case kind.
func DefaultParsers(res *timerange.Resolver) map[string]Parser {
	if res == nil {
		res = timerange.New()
	}
	return map[string]Parser{
		"wms":  &WMSParser{Resolver: res},
		"wmts": &WMTSParser{Resolver: res},
	}
}

var errNotCapabilities = errors.New("document is not a capabilities response")

type wmsDimension struct {
	Name    string `xml:"name,attr"`
	Units   string `xml:"units,attr"`
	Default string `xml:"default,attr"`
	Value   string `xml:",chardata"`
}

type wmsLayer struct {
	Name       string         `xml:"Name"`
	Title      string         `xml:"Title"`
	Dimensions []wmsDimension `xml:"Dimension"`
	Extents    []wmsDimension `xml:"Extent"`
	Layers     []wmsLayer     `xml:"Layer"`
}

type wmsCapabilities struct {
	XMLName    xml.Name
	Version    string `xml:"version,attr"`
	Capability struct {
		Layers []wmsLayer `xml:"Layer"`
	} `xml:"Capability"`
}

// WMSParser reads WMS 1.1.1 and 1.3.0 GetCapabilities documents. Time
// dimensions are inherited by nested layers unless they declare their own.
type WMSParser struct {
	Resolver *timerange.Resolver
}

func (p *WMSParser) Parse(data []byte) (*Document, error) {
	var caps wmsCapabilities
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&caps); err != nil {
		return nil, err
	}
	root := caps.XMLName.Local
	if root != "WMS_Capabilities" && root != "WMT_MS_Capabilities" {
		return nil, errNotCapabilities
	}
	doc := &Document{Kind: "wms", Version: caps.Version}
	for _, l := range caps.Capability.Layers {
		p.walk(doc, l, wmsDimension{})
	}
	return doc, nil
}

func (p *WMSParser) walk(doc *Document, l wmsLayer, inherited wmsDimension) {
	dim := inherited
	if d, ok := timeDimension(l.Dimensions, l.Extents); ok {
		dim = d
	}
	if l.Name != "" {
		info := LayerInfo{Name: l.Name, Title: strings.TrimSpace(l.Title)}
		if v := strings.TrimSpace(dim.Value); v != "" {
			info.TimeDimension = v
			info.DefaultTime = dim.Default
			if times, err := p.Resolver.ParseDimension(v); err == nil {
				info.Times = times
			}
		}
		doc.Layers = append(doc.Layers, info)
	}
	for _, child := range l.Layers {
		p.walk(doc, child, dim)
	}
}

// timeDimension picks the "time" dimension. WMS 1.1.1 declares the values
// in an Extent element next to the Dimension; 1.3.0 puts them inline.
func timeDimension(dims, extents []wmsDimension) (wmsDimension, bool) {
	var (
		out   wmsDimension
		found bool
	)
	for _, d := range dims {
		if strings.EqualFold(d.Name, "time") {
			out, found = d, true
			break
		}
	}
	for _, e := range extents {
		if strings.EqualFold(e.Name, "time") {
			if strings.TrimSpace(out.Value) == "" {
				out.Value = e.Value
			}
			if out.Default == "" {
				out.Default = e.Default
			}
			out.Name = e.Name
			found = true
			break
		}
	}
	return out, found && strings.TrimSpace(out.Value) != ""
}

type wmtsDimension struct {
	Identifier string   `xml:"Identifier"`
	Default    string   `xml:"Default"`
	Values     []string `xml:"Value"`
}

type wmtsLayer struct {
	Identifier string          `xml:"Identifier"`
	Title      string          `xml:"Title"`
	Dimensions []wmtsDimension `xml:"Dimension"`
}

type wmtsCapabilities struct {
	XMLName  xml.Name
	Version  string `xml:"version,attr"`
	Contents struct {
		Layers []wmtsLayer `xml:"Layer"`
	} `xml:"Contents"`
}

// WMTSParser reads WMTS 1.0.0 GetCapabilities documents.
type WMTSParser struct {
	Resolver *timerange.Resolver
}

func (p *WMTSParser) Parse(data []byte) (*Document, error) {
	var caps wmtsCapabilities
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&caps); err != nil {
		return nil, err
	}
	if caps.XMLName.Local != "Capabilities" {
		return nil, errNotCapabilities
	}
	doc := &Document{Kind: "wmts", Version: caps.Version}
	for _, l := range caps.Contents.Layers {
		info := LayerInfo{Name: strings.TrimSpace(l.Identifier), Title: strings.TrimSpace(l.Title)}
		for _, d := range l.Dimensions {
			if !strings.EqualFold(strings.TrimSpace(d.Identifier), "time") {
				continue
			}
			values := make([]string, 0, len(d.Values))
			for _, v := range d.Values {
				if v = strings.TrimSpace(v); v != "" {
					values = append(values, v)
				}
			}
			info.TimeDimension = strings.Join(values, ",")
			info.DefaultTime = strings.TrimSpace(d.Default)
			var times timeline.TimeSet
			for _, v := range values {
				ts, err := p.Resolver.ParseDimension(v)
				if err != nil {
					continue
				}
				times = timeline.Merge(times, ts)
			}
			info.Times = times
			break
		}
		doc.Layers = append(doc.Layers, info)
	}
	return doc, nil
}
