package dispatcher

import "context"

// process runs the jobs of one key in order and reports each finished job.
func process(ctx context.Context, key string, input chan job, finished chan string) {
	for j := range input {
		if err := j.ctx.Err(); err != nil {
			j.result <- err
		} else {
			j.result <- j.run(j.ctx)
		}

		select {
		case finished <- key:
		case <-ctx.Done():
			return
		}
	}
}
