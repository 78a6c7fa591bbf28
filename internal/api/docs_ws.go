package api

const wsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>WebSocket Protocol - Tabscribe</title>
  <style>
    body {
      margin: 0 auto;
      max-width: 880px;
      padding: 24px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    h1, h2 { color: #e6edf3; }
    code, pre { font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 13px; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    td, th { border-bottom: 1px solid #30363d; padding: 6px 8px; text-align: left; vertical-align: top; }
  </style>
</head>
<body>
  <p><a href="/docs">&larr; HTTP API</a></p>
  <h1>Panel WebSocket</h1>
  <p>Connect to <code>/ws/ui</code>. Every frame is one JSON text message with a <code>type</code> field.
  On connect the server sends the current <code>recording-status</code>, followed by <code>host-ready</code>
  when the transcription host is up.</p>

  <h2>Commands</h2>
  <table>
    <tr><th>type</th><th>fields</th></tr>
    <tr><td><code>ensure-host</code></td><td></td></tr>
    <tr><td><code>start-recording</code></td><td></td></tr>
    <tr><td><code>stop-recording</code></td><td></td></tr>
    <tr><td><code>open-recordings-folder</code></td><td></td></tr>
    <tr><td><code>open-saved-folder</code></td><td><code>folderPath</code></td></tr>
    <tr><td><code>request-audio-playback</code></td><td><code>requestId?</code> <code>audioPath</code> <code>tabTitle?</code> <code>mimeType?</code></td></tr>
    <tr><td><code>request-tab-history</code></td><td><code>requestId?</code> <code>tabId</code> <code>tabUUID?</code> <code>includeTranscripts?</code> <code>limit?</code> <code>outputDir?</code></td></tr>
  </table>

  <h2>Events</h2>
  <table>
    <tr><th>type</th><th>delivery</th></tr>
    <tr><td><code>host-ready</code> <code>status</code> <code>warn</code> <code>error</code> <code>result</code></td><td>all panels</td></tr>
    <tr><td><code>recording-status</code> <code>recording-started</code> <code>recording-stopped</code></td><td>all panels</td></tr>
    <tr><td><code>audio-file</code> <code>audio-file-error</code></td><td>requesting panel, by <code>requestId</code></td></tr>
    <tr><td><code>tab-history-result</code> <code>tab-history-error</code></td><td>requesting panel, by <code>requestId</code></td></tr>
  </table>
  <p>A reply whose panel has disconnected is broadcast instead.</p>

  <h2>Example</h2>
  <pre><code>const ws = new WebSocket('ws://127.0.0.1:8787/ws/ui');
ws.onmessage = (e) => console.log(JSON.parse(e.data));
ws.onopen = () => ws.send(JSON.stringify({ type: 'request-tab-history', tabId: 'T1', requestId: 'h-1' }));</code></pre>

  <h1>Capture page</h1>
  <p>The capture page is served at <code>/offscreen</code> and opened by the daemon as a background target.
  It connects back to <code>/ws/offscreen</code> and answers <code>ping</code>, <code>start-recording</code>
  and <code>stop-recording</code>.</p>
</body>
</html>`
