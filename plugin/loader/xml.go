package loader

import (
	"context"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/chengcxy/docshift/configor"
	"github.com/chengcxy/docshift/exception"
	"github.com/chengcxy/docshift/logger"
	"github.com/chengcxy/docshift/plugin"
	"github.com/chengcxy/docshift/source"
)

// DefaultXMLNode selects the children of the document element.
const DefaultXMLNode = "/*/*"

type span struct{ start, end int64 }

// XMLLoader emits the serialized elements of XML-FILE selected by XML-NODE.
// XML-NODE is a path of local names separated by '/', '*' matches any name;
// a leading '/' anchors it at the document element, otherwise it matches at any depth.
type XMLLoader struct {
	path  string
	f     *os.File
	spans []span
	pos   int
}

func NewXMLLoader() plugin.UrisLoader {
	return &XMLLoader{}
}

func (l *XMLLoader) Open(ctx context.Context, opts *configor.Options, _ source.ContentSource) error {
	l.path = opts.Get(configor.XmlFile)
	if l.path == "" {
		return exception.NewConfigError(configor.XmlFile, "XML-FILE is not set")
	}
	node := opts.Get(configor.XmlNode)
	if node == "" {
		node = DefaultXMLNode
	}
	f, err := os.Open(l.path)
	if err != nil {
		return exception.NewLoadError(configor.XmlFile, err, "cannot open %s", l.path)
	}
	spans, err := scanNodes(ctx, f, node)
	if err != nil {
		f.Close()
		return exception.NewLoadError(configor.XmlFile, err, "cannot parse %s", l.path)
	}
	l.f, l.spans = f, spans
	logger.Infof("xml file %s has %d nodes matching %s", l.path, len(spans), node)
	return nil
}

// scanNodes records the byte range of every matching element in one pass.
func scanNodes(ctx context.Context, r io.Reader, node string) ([]span, error) {
	anchored := strings.HasPrefix(node, "/")
	want := strings.Split(strings.Trim(node, "/"), "/")
	d := xml.NewDecoder(r)
	var (
		stack []string
		spans []span
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := d.InputOffset()
		tok, err := d.Token()
		if err == io.EOF {
			return spans, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if !pathMatches(stack, want, anchored) {
				continue
			}
			if err := skipElement(d); err != nil {
				return nil, err
			}
			stack = stack[:len(stack)-1]
			spans = append(spans, span{start: start, end: d.InputOffset()})
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
}

func skipElement(d *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func pathMatches(stack, want []string, anchored bool) bool {
	if anchored && len(stack) != len(want) {
		return false
	}
	if len(stack) < len(want) {
		return false
	}
	tail := stack[len(stack)-len(want):]
	for i, w := range want {
		if w != "*" && w != tail[i] {
			return false
		}
	}
	return true
}

func (l *XMLLoader) Total() int64 { return int64(len(l.spans)) }

func (l *XMLLoader) BatchRef() string { return "" }

func (l *XMLLoader) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.f == nil || l.pos >= len(l.spans) {
		return "", io.EOF
	}
	s := l.spans[l.pos]
	l.pos++
	buf := make([]byte, s.end-s.start)
	if _, err := l.f.ReadAt(buf, s.start); err != nil {
		return "", exception.NewLoadError(configor.XmlFile, err, "cannot read %s", l.path)
	}
	return string(buf), nil
}

func (l *XMLLoader) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
