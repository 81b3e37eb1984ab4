package report

import (
	"context"
	"io"
)

func (r *Report) writeHTML(w io.Writer) error {
	return Page(r).Render(context.Background(), w)
}
