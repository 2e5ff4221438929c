package report

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{if .Name}}{{.Name}}{{else}}Load test{{end}} - Load Test Report</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
    <style>
        :root {
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --muted: #64748b;
            --border: #e2e8f0;
            --accent: #3b82f6;
            --ok: #22c55e;
            --warn: #f59e0b;
            --bad: #ef4444;
        }
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.6;
        }
        .container { max-width: 1400px; margin: 0 auto; padding: 2rem; }
        .card {
            background: var(--card);
            border-radius: 12px;
            padding: 1.5rem;
            margin-bottom: 1.5rem;
            box-shadow: 0 1px 3px rgba(0, 0, 0, 0.1);
        }
        .header { display: flex; justify-content: space-between; align-items: center; flex-wrap: wrap; gap: 1rem; }
        .header h1 { font-size: 1.75rem; }
        .meta { display: flex; gap: 2rem; color: var(--muted); font-size: 0.875rem; }
        .status { padding: 0.75rem 1.5rem; border-radius: 8px; font-weight: 600; }
        .status.pass { color: var(--ok); border: 1px solid var(--ok); }
        .status.fail { color: var(--bad); border: 1px solid var(--bad); }
        .notice { color: var(--warn); margin-top: 0.5rem; }
        .error { color: var(--bad); margin-top: 0.5rem; }
        .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 1rem; margin-bottom: 1.5rem; }
        .cards .label { color: var(--muted); font-size: 0.8rem; text-transform: uppercase; }
        .cards .value { font-size: 1.6rem; font-weight: 700; }
        .unit { font-size: 0.9rem; color: var(--muted); margin-left: 0.25rem; }
        h2 { font-size: 1.2rem; margin-bottom: 1rem; }
        .chart-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(450px, 1fr)); gap: 1.5rem; }
        .chart-wrapper { position: relative; height: 260px; }
        table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
        th, td { text-align: left; padding: 0.5rem; border-bottom: 1px solid var(--border); }
        th { color: var(--muted); font-weight: 600; }
        td.mono { font-family: ui-monospace, Menlo, monospace; }
        .mark.pass { color: var(--ok); }
        .mark.fail { color: var(--bad); }
        footer { text-align: center; color: var(--muted); font-size: 0.8rem; padding: 1rem; }
    </style>
</head>
<body>
<div class="container">
    <section class="card header">
        <div>
            <h1>{{if .Name}}{{.Name}}{{else}}Load test{{end}}</h1>
            {{if .Description}}<p class="meta">{{.Description}}</p>{{end}}
            <div class="meta">
                <span>Started {{.StartTime.Format "2006-01-02 15:04:05"}}</span>
                <span>Duration {{formatDuration .Duration}}</span>
                <span>Run {{.RunID}}</span>
            </div>
            {{if .Aborted}}<p class="notice">Aborted: {{.AbortReason}}</p>{{end}}
            {{if .SetupError}}<p class="error">Setup failed: {{.SetupError}}</p>{{end}}
            {{if .TeardownError}}<p class="error">Teardown failed: {{.TeardownError}}</p>{{end}}
        </div>
        <div class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}✓ PASSED{{else}}✗ FAILED{{end}}</div>
    </section>

    <section class="cards">
        <div class="card"><div class="label">Total Requests</div><div class="value">{{formatNumber .TotalRequests}}</div></div>
        <div class="card"><div class="label">Throughput</div><div class="value">{{printf "%.1f" .RPS}}<span class="unit">req/s</span></div></div>
        <div class="card"><div class="label">Error Rate</div><div class="value">{{percent .ErrorRate}}<span class="unit">%</span></div></div>
        <div class="card"><div class="label">P95 Latency</div><div class="value">{{formatLatency (ms .Latency.P95)}}</div></div>
        {{if .HasChecks}}<div class="card"><div class="label">Checks</div><div class="value">{{percent .ChecksRate}}<span class="unit">%</span></div></div>{{end}}
        <div class="card"><div class="label">Data Received</div><div class="value">{{formatBytes .DataReceived}}</div></div>
    </section>

    {{if .TimeSeries}}
    <section class="card">
        <h2>Time Series</h2>
        <div class="chart-grid">
            <div><h3>Requests Per Second</h3><div class="chart-wrapper"><canvas id="rpsChart"></canvas></div></div>
            <div><h3>Latency</h3><div class="chart-wrapper"><canvas id="latencyChart"></canvas></div></div>
            <div><h3>Active VUs</h3><div class="chart-wrapper"><canvas id="vusChart"></canvas></div></div>
            <div><h3>Error Rate</h3><div class="chart-wrapper"><canvas id="errorChart"></canvas></div></div>
        </div>
    </section>
    {{end}}

    {{if .Results}}
    <section class="card">
        <h2>Thresholds</h2>
        <table>
            <thead><tr><th></th><th>Metric</th><th>Expression</th><th>Actual</th><th></th></tr></thead>
            <tbody>
            {{range .Results}}
                <tr>
                    <td class="mark {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}✓{{else}}✗{{end}}</td>
                    <td>{{.Metric}}</td>
                    <td class="mono">{{.Source}}</td>
                    <td class="mono">{{formatFloat .Actual}}</td>
                    <td>{{if .Aborted}}aborted the run{{end}}{{if .Message}} {{.Message}}{{end}}</td>
                </tr>
            {{end}}
            </tbody>
        </table>
    </section>
    {{end}}

    <section class="card">
        <h2>Metrics</h2>
        <table>
            <thead><tr><th>Metric</th><th>Type</th><th>Values</th></tr></thead>
            <tbody>
            {{range .Rows}}
                <tr><td>{{.Name}}</td><td>{{.Type}}</td><td class="mono">{{.Values}}</td></tr>
            {{end}}
            </tbody>
        </table>
    </section>

    <footer>Generated by rampvu · {{.EndTime.Format "2006-01-02 15:04:05 MST"}}</footer>
</div>

<script>
    const timeSeriesData = {{.TimeSeriesJSON}};

    const labels = timeSeriesData.map((d, i) => i + 1);
    const opts = {
        responsive: true,
        maintainAspectRatio: false,
        interaction: { mode: 'index', intersect: false },
        scales: { y: { beginAtZero: true } },
        elements: { point: { radius: 0 } },
    };

    function line(id, datasets) {
        const el = document.getElementById(id);
        if (!el) return;
        new Chart(el.getContext('2d'), { type: 'line', data: { labels, datasets }, options: opts });
    }

    line('rpsChart', [
        { label: 'req/s', data: timeSeriesData.map(d => d.intervalRPS), borderColor: '#3b82f6', fill: false },
    ]);
    line('latencyChart', [
        { label: 'p50 (ms)', data: timeSeriesData.map(d => d.latencyP50), borderColor: '#22c55e' },
        { label: 'p95 (ms)', data: timeSeriesData.map(d => d.latencyP95), borderColor: '#f59e0b' },
        { label: 'p99 (ms)', data: timeSeriesData.map(d => d.latencyP99), borderColor: '#ef4444' },
    ]);
    line('vusChart', [
        { label: 'VUs', data: timeSeriesData.map(d => d.activeVUs), borderColor: '#8b5cf6', stepped: true },
    ]);
    line('errorChart', [
        { label: 'errors (%)', data: timeSeriesData.map(d => d.intervalErrorRate * 100), borderColor: '#ef4444' },
    ]);
</script>
</body>
</html>
`
