package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antlerlab/antlerbot/internal/providers"
)

// Resolve waits for every background job with an individual timeout, then
// re-renders the text with each placeholder substituted by its result.
// Passthrough blocks that arrived ride along. One slow job never holds the
// others past its own deadline.
func Resolve(ctx context.Context, timeout time.Duration, text string, tasks []Task) (string, []providers.ImageContent) {
	results := make([]Result, len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			select {
			case res := <-task.Result:
				results[i] = res
			case <-waitCtx.Done():
				results[i] = Result{Text: fmt.Sprintf(`<%s error="处理超时" />`, TagFor(task.MediaType))}
			}
			return nil
		})
	}
	g.Wait()

	var blocks []providers.ImageContent
	for i, task := range tasks {
		if results[i].Block != nil {
			blocks = append(blocks, *results[i].Block)
		}
		text = strings.Replace(text, task.PlaceholderTag, results[i].Text, 1)
	}
	return text, blocks
}
