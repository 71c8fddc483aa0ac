package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/pager"
)

// ErrNoNextControl is returned when a relation has no usable next control.
var ErrNoNextControl = errors.New("relation has no next control")

// frame returns the document a frame id names.
func (b *Browser) frame(ctx context.Context, p *rod.Page, id string) (*rod.Page, error) {
	p = p.Context(ctx)
	if id == "" || id == TopFrame {
		return p, nil
	}
	el, err := find(p, id)
	if err != nil {
		return nil, err
	}
	f, err := el.Frame()
	if err != nil {
		return nil, fmt.Errorf("%w: frame %s: %v", engine.ErrNodeNotFound, id, err)
	}
	return f, nil
}

// find looks xpath up once, without waiting for it to appear.
func find(p *rod.Page, xpath string) (*rod.Element, error) {
	has, el, err := p.HasX(xpath)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", engine.ErrTransport, xpath, err)
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", engine.ErrNodeNotFound, xpath)
	}
	return el, nil
}

func nodeRep(ctx context.Context, page *rod.Page, el *rod.Element, xpath, frame string) (ir.NodeRep, error) {
	el = el.Context(ctx)
	text, err := el.Text()
	if err != nil {
		return ir.NodeRep{}, fmt.Errorf("%w: read %s: %v", engine.ErrTransport, xpath, err)
	}
	rep := ir.NodeRep{Text: strings.TrimSpace(text), XPath: xpath, Frame: frame}
	if href, err := el.Property("href"); err == nil && !href.Nil() {
		rep.Link = href.Str()
	}
	if loc, err := page.Eval(`() => location.href`); err == nil {
		rep.SourceURL = loc.Value.Str()
	}
	return rep, nil
}

// xpathLiteral quotes s for use inside an xpath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// nextXPath locates the relation's next control.
func nextXPath(rel *ir.Relation) (string, error) {
	switch {
	case rel.Next.XPath != "":
		return rel.Next.XPath, nil
	case rel.Next.Text != "":
		return fmt.Sprintf("//*[self::a or self::button or @role='button'][normalize-space(.)=%s]", xpathLiteral(rel.Next.Text)), nil
	default:
		return "", fmt.Errorf("%w: %s control of %q has neither xpath nor text", ErrNoNextControl, rel.Next.Type, rel.ID)
	}
}

// Frames lists the tab's top document and its iframes.
func (b *Browser) Frames(ctx context.Context, tab string) ([]string, error) {
	t, err := b.tab(tab)
	if err != nil {
		return nil, err
	}
	els, err := t.page.Context(ctx).ElementsX("//iframe")
	if err != nil {
		return nil, fmt.Errorf("%w: list frames: %v", engine.ErrTransport, err)
	}
	frames := []string{TopFrame}
	for i := range els {
		frames = append(frames, fmt.Sprintf("(//iframe)[%d]", i+1))
	}
	return frames, nil
}

// Extract reads the relation's rows from one frame. A frame without rows
// answers NoNewItemsYet until its document has finished loading.
func (b *Browser) Extract(ctx context.Context, tab, frame string, rel *ir.Relation) (pager.Extraction, error) {
	ex := pager.Extraction{Frame: frame}
	t, err := b.tab(tab)
	if err != nil {
		return ex, err
	}
	page, err := b.frame(ctx, t.page, frame)
	if err != nil {
		// A frame that went away has nothing to offer.
		ex.Status = pager.NoMoreItems
		return ex, nil
	}

	rows, err := page.ElementsX(strings.Replace(rel.RowXPath, "[*]", "", 1))
	if err != nil {
		return ex, fmt.Errorf("%w: query rows: %v", engine.ErrTransport, err)
	}
	if len(rows) == 0 {
		ex.Status = pager.NoMoreItems
		if state, err := page.Eval(`() => document.readyState`); err == nil && state.Value.Str() != "complete" {
			ex.Status = pager.NoNewItemsYet
		}
		return ex, nil
	}

	for i := range rows {
		cells := make([]ir.NodeRep, len(rel.Columns))
		for j, col := range rel.Columns {
			xp := rel.CellXPath(i+1, col)
			cells[j] = ir.NodeRep{XPath: xp, Frame: frame}
			has, el, err := page.HasX(xp)
			if err != nil {
				return ex, fmt.Errorf("%w: query %s: %v", engine.ErrTransport, xp, err)
			}
			if !has {
				continue
			}
			if cells[j], err = nodeRep(ctx, page, el, xp, frame); err != nil {
				return ex, err
			}
		}
		ex.Rows = append(ex.Rows, cells)
	}
	ex.Status = pager.NewItems
	return ex, nil
}

// RunNextInteraction clicks the next or more button, or scrolls to the
// bottom for scroll_for_more relations.
func (b *Browser) RunNextInteraction(ctx context.Context, tab string, rel *ir.Relation) error {
	t, err := b.tab(tab)
	if err != nil {
		return err
	}
	page, err := b.frame(ctx, t.page, rel.Frame)
	if err != nil {
		return err
	}

	switch rel.Next.Type {
	case ir.NextScroll:
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return fmt.Errorf("%w: scroll: %v", engine.ErrTransport, err)
		}
		return nil
	case ir.NextButton, ir.NextMoreButton:
		xp, err := nextXPath(rel)
		if err != nil {
			return err
		}
		el, err := find(page, xp)
		if err != nil {
			return err
		}
		if err := el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("%w: click next: %v", engine.ErrTransport, err)
		}
		if rel.Next.Type == ir.NextButton {
			return b.waitLoad(ctx, t.page)
		}
		return nil
	default:
		return fmt.Errorf("%w: type %q", ErrNoNextControl, rel.Next.Type)
	}
}

// Reload reloads the tab and waits for it.
func (b *Browser) Reload(ctx context.Context, tab string) error {
	t, err := b.tab(tab)
	if err != nil {
		return err
	}
	if err := t.page.Context(ctx).Reload(); err != nil {
		return fmt.Errorf("%w: reload %s: %v", engine.ErrTransport, tab, err)
	}
	return b.waitLoad(ctx, t.page)
}
