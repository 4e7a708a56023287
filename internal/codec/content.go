package codec

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmartens/lifesync/internal/notion"
	"github.com/jmartens/lifesync/internal/record"
)

// maxBlockDepth caps recursion into nested blocks. Pages nest toggles
// and lists arbitrarily; three levels captures everything people
// actually write without risking a pathological tree.
const maxBlockDepth = 3

// maxContentChars caps the flattened body stored per record. The store
// holds a working summary, not an archive; the page stays the full copy.
const maxContentChars = 2000

// BlockSource fetches page bodies. Satisfied by the workspace client.
type BlockSource interface {
	GetPageBlocks(ctx context.Context, pageID string) ([]notion.Block, error)
	GetBlockChildren(ctx context.Context, blockID string) ([]notion.Block, error)
}

// Content is an extracted page body.
type Content struct {
	// Text is the flattened body, one line per block.
	Text string
	// Unsupported is true when the page contained block types the
	// extractor cannot render. The sync still proceeds; the flag keeps
	// the store from being mistaken for a complete copy.
	Unsupported bool
}

// ExtractPageContent flattens a page body into plain text. Each block
// type gets a textual prefix so structure survives the round trip in a
// readable form.
func ExtractPageContent(ctx context.Context, src BlockSource, pageID string) (*Content, error) {
	blocks, err := src.GetPageBlocks(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page body: %w", err)
	}
	out := &Content{}
	var lines []string
	if err := renderBlocks(ctx, src, blocks, 0, "", &lines, out); err != nil {
		return nil, err
	}
	out.Text = strings.Join(lines, "\n")
	if len(out.Text) > maxContentChars {
		out.Text = strings.ToValidUTF8(out.Text[:maxContentChars], "")
	}
	return out, nil
}

func renderBlocks(ctx context.Context, src BlockSource, blocks []notion.Block, depth int, indent string, lines *[]string, out *Content) error {
	for _, b := range blocks {
		line, ok := renderBlock(b)
		if !ok {
			out.Unsupported = true
		} else if line != "" {
			*lines = append(*lines, indent+line)
		}
		if b.HasChildren && depth+1 < maxBlockDepth {
			children, err := src.GetBlockChildren(ctx, b.ID)
			if err != nil {
				return fmt.Errorf("failed to fetch block children: %w", err)
			}
			if err := renderBlocks(ctx, src, children, depth+1, indent+"  ", lines, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// renderBlock converts one block to a text line. The second return is
// false for block types the extractor does not handle.
func renderBlock(b notion.Block) (string, bool) {
	switch b.Type {
	case "paragraph":
		return b.Text, true
	case "heading_1":
		return "# " + b.Text, true
	case "heading_2":
		return "## " + b.Text, true
	case "heading_3":
		return "### " + b.Text, true
	case "bulleted_list_item":
		return "- " + b.Text, true
	case "numbered_list_item":
		return "1. " + b.Text, true
	case "to_do":
		box := "[ ]"
		if b.Checked != nil && *b.Checked {
			box = "[x]"
		}
		return box + " " + b.Text, true
	case "quote":
		return "> " + b.Text, true
	case "callout":
		return "> " + b.Text, true
	case "code":
		return b.Text, true
	case "toggle":
		return b.Text, true
	case "divider":
		return "---", true
	}
	return "", false
}

// ExtractPageSections splits a page body into titled sections on
// second-level headings. Content before the first heading lands in an
// untitled leading section.
func ExtractPageSections(ctx context.Context, src BlockSource, pageID string) ([]record.Section, bool, error) {
	blocks, err := src.GetPageBlocks(ctx, pageID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch page body: %w", err)
	}

	var sections []record.Section
	current := record.Section{}
	var lines []string
	unsupported := false

	flush := func() {
		current.Content = strings.Join(lines, "\n")
		if current.Heading != "" || current.Content != "" {
			sections = append(sections, current)
		}
		lines = nil
	}

	for _, b := range blocks {
		if b.Type == "heading_2" {
			flush()
			current = record.Section{Heading: b.Text}
			continue
		}
		line, ok := renderBlock(b)
		if !ok {
			unsupported = true
			continue
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	flush()
	return sections, unsupported, nil
}
