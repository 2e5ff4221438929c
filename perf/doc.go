// Package perf is the programmatic entry point to rampvu.
//
// A test is a schedule of VU targets, a scenario every VU runs in a loop,
// optional setup and teardown hooks, and thresholds that decide the
// verdict:
//
//	verdict, err := perf.Run(ctx, perf.Options{
//	    Schedule: perf.Schedule{Stages: []perf.Stage{
//	        {Duration: 30 * time.Second, Target: 10},
//	        {Duration: time.Minute, Target: 10},
//	        {Duration: 30 * time.Second, Target: 0},
//	    }},
//	    Thresholds: perf.MustThresholds(map[string][]string{
//	        "http_req_duration": {"p(95)<500"},
//	        "http_req_failed":   {"rate<0.01"},
//	    }),
//	    Scenario: func(ctx context.Context, vu *perf.VU) error {
//	        resp, err := vu.HTTP().Get(ctx, "https://api.example.com/health", nil)
//	        if err != nil {
//	            return err
//	        }
//	        vu.Check("status is 200", resp.Status == 200)
//	        vu.Sleep(time.Second)
//	        return nil
//	    },
//	})
//
// Tests described in YAML or JSON files run with RunFile.
package perf
