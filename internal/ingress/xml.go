package ingress

// xml.go reads the XML form of the return.
//
// Each element under the root, or under a <Children> wrapper, is one child.
// Its leaf elements are the roster (Header) fields; its non-leaf descendants
// are sub-records whose tag names the table they belong to. Wrapper elements
// such as <EPISODES> are descended through without producing rows. The
// message <Header> carries submission details only and is skipped.

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

// xmlRenames maps XML field tags to their CSV column names.
var xmlRenames = map[string]string{
	"PLACE_PROV":  "PLACE_PROVIDER",
	"REVIEW_DATE": "REVIEW",
}

// Top-level elements that are not child records.
var (
	xmlSkipped  = map[string]bool{"HEADER": true}
	xmlWrappers = map[string]bool{"CHILDREN": true}
)

// propagated identifiers are copied from the enclosing child into sub-rows
// that do not carry their own.
var propagated = []string{"CHILD", "DOB"}

type xmlNode struct {
	name     string
	text     string
	children []*xmlNode
}

func (n *xmlNode) leaf() bool { return len(n.children) == 0 }

// parseXMLTree decodes a document into a node tree and returns its root.
func parseXMLTree(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(cleanBytes(data)))
	dec.Strict = false

	var (
		root  *xmlNode
		stack []*xmlNode
		text  []*strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch tk := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: strings.ToUpper(tk.Name.Local)}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
			text = append(text, &strings.Builder{})
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1].Write(tk)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected </%s>", tk.Name.Local)
			}
			stack[len(stack)-1].text = text[len(text)-1].String()
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		}
	}
	if root == nil {
		return nil, errors.New("document has no root element")
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("unclosed element <%s>", stack[len(stack)-1].name)
	}
	return root, nil
}

// xmlReader accumulates rows for one document.
type xmlReader struct {
	tables map[string]*datastore.Table
	byTag  map[string]Schema
	logger *slog.Logger
}

func newXMLReader(logger *slog.Logger) *xmlReader {
	r := &xmlReader{
		tables: make(map[string]*datastore.Table),
		byTag:  make(map[string]Schema),
		logger: logger,
	}
	for _, s := range Schemas() {
		r.tables[s.Table] = datastore.NewTable(s.Table, s.Columns)
		if s.XMLTag != "" {
			r.byTag[s.XMLTag] = s
		}
	}
	return r
}

// row builds one row of schema from the leaf children of n, filling
// propagated identifiers from ctx when n lacks them.
func row(s Schema, n *xmlNode, ctx map[string]pgtype.Text) []pgtype.Text {
	fields := make(map[string]pgtype.Text, len(n.children))
	for _, c := range n.children {
		if !c.leaf() {
			continue
		}
		name := c.name
		if renamed, ok := xmlRenames[name]; ok {
			name = renamed
		}
		fields[name] = NormalizeCell(c.text)
	}
	for _, id := range propagated {
		if v, ok := fields[id]; (!ok || !v.Valid) && ctx != nil {
			fields[id] = ctx[id]
		}
	}
	cells := make([]pgtype.Text, len(s.Columns))
	for i, col := range s.Columns {
		cells[i] = fields[col]
	}
	return cells
}

func (r *xmlReader) readChild(n *xmlNode) {
	header, _ := Lookup(datastore.Header)
	cells := row(header, n, nil)
	r.tables[datastore.Header].AppendRow(cells)

	ctx := make(map[string]pgtype.Text, len(propagated))
	for i, col := range header.Columns {
		ctx[col] = cells[i]
	}
	r.descend(n, ctx)
}

// descend dispatches every non-leaf descendant of n whose tag is known.
func (r *xmlReader) descend(n *xmlNode, ctx map[string]pgtype.Text) {
	for _, c := range n.children {
		if c.leaf() {
			continue
		}
		s, ok := r.byTag[c.name]
		if !ok {
			r.logger.Debug("descending through unknown xml node", "tag", c.name)
			r.descend(c, ctx)
			continue
		}
		r.tables[s.Table].AppendRow(row(s, c, ctx))
		r.descend(c, ctx)
	}
}

// ParseXML reads one XML return into every catalog table. Tables with no
// rows in the document are present and empty.
func ParseXML(name string, data []byte, logger *slog.Logger) (map[string]*datastore.Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := parseXMLTree(data)
	if err != nil {
		return nil, uploadErr(name, fmt.Errorf("%w: %v", ErrMalformedFile, err))
	}
	r := newXMLReader(logger)
	r.readChildren(root.children)
	return r.tables, nil
}

func (r *xmlReader) readChildren(nodes []*xmlNode) {
	for _, n := range nodes {
		switch {
		case n.leaf():
		case xmlSkipped[n.name]:
			r.logger.Debug("skipping xml node", "tag", n.name)
		case xmlWrappers[n.name]:
			r.readChildren(n.children)
		default:
			r.readChild(n)
		}
	}
}

// readXMLSet reads at most one XML document per year role.
func readXMLSet(files []File, logger *slog.Logger) (map[string]*datastore.Table, error) {
	seen := make(map[Role]bool, 2)
	out := make(map[string]*datastore.Table)
	for _, f := range files {
		if seen[f.Role] {
			return nil, uploadErr(f.Name, fmt.Errorf("%w: only one xml file per year", ErrDuplicateTable))
		}
		seen[f.Role] = true

		tables, err := ParseXML(f.Name, f.Data, logger)
		if err != nil {
			return nil, err
		}
		for _, t := range tables {
			renamed := t.Rename(tableName(t.Name(), f.Role))
			out[renamed.Name()] = renamed
		}
	}
	return out, nil
}
