package api

// docsHTML is the /docs landing page: a daemon summary bar above the
// rendered OpenAPI reference.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Tabscribe daemon</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    html, body { height: 100%; margin: 0; background: #0d1117; }
    body { display: flex; flex-direction: column; }
    header {
      display: flex;
      align-items: center;
      gap: 18px;
      padding: 8px 16px;
      border-bottom: 1px solid #30363d;
      color: #c9d1d9;
      font: 13px -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
    }
    header strong { color: #e6edf3; }
    header a { color: #58a6ff; text-decoration: none; }
    header code { font-family: ui-monospace, Menlo, monospace; }
    #state { margin-left: auto; }
    main { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <header>
    <strong>tabscribe</strong>
    <span>panels: <code>/ws/ui</code></span>
    <span>capture page: <code>/offscreen</code></span>
    <a href="/docs/ws">Panel protocol</a>
    <a href="/openapi.json">openapi.json</a>
    <span id="state">session: &hellip;</span>
  </header>
  <main>
    <elements-api
      apiDescriptionUrl="/openapi.json"
      router="hash"
      layout="sidebar"
      hideSchemas
      darkMode
    />
  </main>
  <script>
    fetch("/api/v1/status")
      .then((r) => r.json())
      .then((s) => {
        const host = s.host || "unknown";
        const session = (s.session && s.session.status) || "unknown";
        document.getElementById("state").textContent = "session: " + session + " / host: " + host;
      })
      .catch(() => { document.getElementById("state").textContent = "session: unavailable"; });
  </script>
</body>
</html>`
