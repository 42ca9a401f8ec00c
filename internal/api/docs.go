package api

// docsHTML is a static route guide. The machine-readable description is
// generated by huma at /openapi.json and /openapi.yaml.
const docsHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<title>ActiveProbe Status API</title>
<style>
body { font-family: sans-serif; margin: 2em auto; max-width: 52em; color: #222; }
code { background: #f2f2f2; padding: 0 .25em; }
td { padding: .25em 1em .25em 0; vertical-align: top; }
</style>
</head>
<body>
<h1>ActiveProbe Status API</h1>
<p>Read-only view of the probe runs of this process.
OpenAPI: <a href="/openapi.json">/openapi.json</a>, <a href="/openapi.yaml">/openapi.yaml</a>.</p>

<h2>Runs</h2>
<table>
<tr><td><code>GET /api/v1/runs</code></td><td>Completed runs in order, then the active run.</td></tr>
<tr><td><code>GET /api/v1/runs/active?events=true</code></td><td>The run collecting events; 404 when none.</td></tr>
<tr><td><code>GET /api/v1/runs/{run_id}?events=true</code></td><td>One run with its metrics; <code>events</code> adds the recorded probe events.</td></tr>
</table>

<h2>Session</h2>
<table>
<tr><td><code>GET /api/v1/session</code></td><td>Connected flag, state, debugger URL and last error of the current browser session.</td></tr>
<tr><td><code>GET /api/v1/health</code></td><td>Liveness.</td></tr>
</table>

<h2>Live events</h2>
<p><code>GET /api/v1/events</code> streams server-sent events named after the probe event
(<code>playerStateChange</code>, <code>playerQualityChange</code>, ...), plus
<code>runFinished</code> carrying the run report.</p>
<table>
<tr><td><code>types=a,b</code></td><td>Only these event names.</td></tr>
<tr><td><code>run=&lt;run_id&gt;</code></td><td>Only events of this run.</td></tr>
</table>

<h2>Metrics</h2>
<p><a href="/metrics">/metrics</a> in Prometheus text format.</p>
</body>
</html>`
