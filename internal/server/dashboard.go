package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Nova Verification</title>
    <meta name="description" content="Adaptive member verification for communities">
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>🛡</text></svg>">
    <link rel="preconnect" href="https://fonts.googleapis.com">
    <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
    <link href="https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600&family=JetBrains+Mono:wght@400;500&display=swap" rel="stylesheet">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --bg: #09090b;
            --bg-subtle: #18181b;
            --border: #27272a;
            --text: #fafafa;
            --text-secondary: #a1a1aa;
            --text-tertiary: #52525b;
            --accent: #22c55e;
            --accent-dim: rgba(34, 197, 94, 0.1);
            --red: #ef4444;
            --amber: #f59e0b;
            --blue: #3b82f6;
            --risk-critical: #ef4444;
            --risk-high: #f97316;
            --risk-medium: #f59e0b;
            --risk-low: #3b82f6;
            --risk-minimal: #22c55e;
        }

        body {
            font-family: 'Inter', -apple-system, sans-serif;
            background: var(--bg);
            color: var(--text);
            min-height: 100vh;
            font-size: 14px;
            line-height: 1.5;
            -webkit-font-smoothing: antialiased;
        }

        .mono {
            font-family: 'JetBrains Mono', monospace;
        }

        .container {
            max-width: 1200px;
            margin: 0 auto;
            padding: 0 24px;
        }

        header {
            border-bottom: 1px solid var(--border);
            padding: 16px 0;
            display: flex;
            align-items: center;
        }

        header .container {
            display: flex;
            align-items: center;
            justify-content: space-between;
            width: 100%;
        }

        .logo {
            font-weight: 600;
            font-size: 16px;
            display: flex;
            align-items: center;
            gap: 8px;
        }

        .conn {
            display: flex;
            align-items: center;
            gap: 6px;
            font-size: 12px;
            color: var(--text-secondary);
        }

        .conn .dot {
            width: 8px;
            height: 8px;
            border-radius: 50%;
            background: var(--text-tertiary);
        }

        .conn.live .dot { background: var(--accent); }

        .stats {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(160px, 1fr));
            gap: 12px;
            margin: 24px 0;
        }

        .stat {
            background: var(--bg-subtle);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 14px 16px;
        }

        .stat .label {
            font-size: 11px;
            text-transform: uppercase;
            letter-spacing: 0.05em;
            color: var(--text-tertiary);
        }

        .stat .value {
            font-size: 24px;
            font-weight: 600;
            margin-top: 4px;
        }

        .grid {
            display: grid;
            grid-template-columns: 2fr 1fr;
            gap: 16px;
            margin-bottom: 32px;
        }

        @media (max-width: 900px) {
            .grid { grid-template-columns: 1fr; }
        }

        .panel {
            background: var(--bg-subtle);
            border: 1px solid var(--border);
            border-radius: 8px;
            overflow: hidden;
        }

        .panel h2 {
            font-size: 13px;
            font-weight: 500;
            padding: 12px 16px;
            border-bottom: 1px solid var(--border);
            color: var(--text-secondary);
        }

        .events {
            max-height: 480px;
            overflow-y: auto;
        }

        .event {
            display: flex;
            align-items: baseline;
            gap: 12px;
            padding: 10px 16px;
            border-bottom: 1px solid var(--border);
            font-size: 13px;
        }

        .event:last-child { border-bottom: none; }

        .event .time {
            color: var(--text-tertiary);
            font-size: 11px;
            white-space: nowrap;
        }

        .event .type {
            font-size: 11px;
            padding: 1px 8px;
            border-radius: 10px;
            white-space: nowrap;
        }

        .event .detail {
            color: var(--text-secondary);
            overflow: hidden;
            text-overflow: ellipsis;
            white-space: nowrap;
        }

        .t-session_started { background: rgba(59,130,246,0.15); color: var(--blue); }
        .t-challenge_issued { background: rgba(161,161,170,0.15); color: var(--text-secondary); }
        .t-session_verified { background: var(--accent-dim); color: var(--accent); }
        .t-session_failed { background: rgba(239,68,68,0.15); color: var(--red); }
        .t-session_timeout { background: rgba(245,158,11,0.15); color: var(--amber); }
        .t-raid_alert { background: rgba(239,68,68,0.25); color: var(--red); font-weight: 600; }

        .risk {
            font-weight: 600;
        }
        .risk.critical { color: var(--risk-critical); }
        .risk.high { color: var(--risk-high); }
        .risk.medium { color: var(--risk-medium); }
        .risk.low { color: var(--risk-low); }
        .risk.minimal { color: var(--risk-minimal); }

        .dist {
            padding: 12px 16px;
        }

        .dist .row {
            display: flex;
            justify-content: space-between;
            padding: 6px 0;
            font-size: 13px;
        }

        .empty {
            padding: 32px;
            text-align: center;
            color: var(--text-tertiary);
        }
    </style>
</head>
<body>
    <header>
        <div class="container">
            <div class="logo">🛡 Nova Verification</div>
            <div class="conn" id="conn"><span class="dot"></span><span id="conn-label">connecting</span></div>
        </div>
    </header>

    <main class="container">
        <div class="stats">
            <div class="stat"><div class="label">Active sessions</div><div class="value mono" id="stat-active">–</div></div>
            <div class="stat"><div class="label">Verified</div><div class="value mono" id="stat-verified">–</div></div>
            <div class="stat"><div class="label">Failed</div><div class="value mono" id="stat-failed">–</div></div>
            <div class="stat"><div class="label">Timed out</div><div class="value mono" id="stat-timeout">–</div></div>
            <div class="stat"><div class="label">Total joins</div><div class="value mono" id="stat-created">–</div></div>
        </div>

        <div class="grid">
            <div class="panel">
                <h2>Live events</h2>
                <div class="events" id="events">
                    <div class="empty">Waiting for events</div>
                </div>
            </div>
            <div class="panel">
                <h2>Risk levels (this session)</h2>
                <div class="dist" id="risk-dist">
                    <div class="empty">No sessions yet</div>
                </div>
            </div>
        </div>
    </main>

    <script>
        const MAX_EVENTS = 100;
        const riskCounts = {};
        let hasEvents = false;

        function fmtTime(ts) {
            return new Date(ts).toLocaleTimeString();
        }

        function describe(ev) {
            const d = ev.data || {};
            switch (ev.type) {
                case 'session_started': {
                    const a = d.analysis || {};
                    return (d.displayName || d.userId || '?') +
                        ' · score ' + (a.threatScore ?? '?') +
                        ' · <span class="risk ' + (a.riskLevel || '') + '">' + (a.riskLevel || '?') + '</span>' +
                        ' · ' + (d.challenges ? d.challenges.length : '?') + ' challenges';
                }
                case 'challenge_issued':
                    return (d.sessionId || '?') + ' · challenge #' + ((d.index ?? 0) + 1);
                case 'session_verified':
                    return (d.displayName || d.userId || '?') + ' passed in ' + (d.responses ? d.responses.length : '?') + ' answers';
                case 'session_failed':
                    return (d.displayName || d.userId || '?') + ' · ' + (d.failReason || '');
                case 'session_timeout':
                    return (d.displayName || d.userId || '?') + ' never finished';
                case 'raid_alert':
                    return 'guild ' + (d.guildId || '?') + ' · ' + (d.joins ?? '?') + ' joins in 60s';
                default:
                    return JSON.stringify(d).slice(0, 120);
            }
        }

        function addEvent(ev) {
            const list = document.getElementById('events');
            if (!hasEvents) { list.innerHTML = ''; hasEvents = true; }

            const row = document.createElement('div');
            row.className = 'event';
            row.innerHTML =
                '<span class="time mono">' + fmtTime(ev.timestamp) + '</span>' +
                '<span class="type t-' + ev.type + '">' + ev.type.replace(/_/g, ' ') + '</span>' +
                '<span class="detail">' + describe(ev) + '</span>';
            list.prepend(row);

            while (list.children.length > MAX_EVENTS) {
                list.removeChild(list.lastChild);
            }

            if (ev.type === 'session_started' && ev.data?.analysis?.riskLevel) {
                const lvl = ev.data.analysis.riskLevel;
                riskCounts[lvl] = (riskCounts[lvl] || 0) + 1;
                renderDist();
            }
        }

        function renderDist() {
            const order = ['critical', 'high', 'medium', 'low', 'minimal'];
            const el = document.getElementById('risk-dist');
            el.innerHTML = order
                .filter(l => riskCounts[l])
                .map(l => '<div class="row"><span class="risk ' + l + '">' + l + '</span><span class="mono">' + riskCounts[l] + '</span></div>')
                .join('') || '<div class="empty">No sessions yet</div>';
        }

        async function loadStats() {
            try {
                const res = await fetch('/v1/stats');
                if (!res.ok) return;
                const body = await res.json();
                const e = body.engine || {};
                document.getElementById('stat-active').textContent = e.activeSessions ?? 0;
                document.getElementById('stat-verified').textContent = e.totalVerified ?? 0;
                document.getElementById('stat-failed').textContent = e.totalFailed ?? 0;
                document.getElementById('stat-timeout').textContent = e.totalTimeout ?? 0;
                document.getElementById('stat-created').textContent = e.totalCreated ?? 0;
            } catch (err) {
                console.error('stats load error:', err);
            }
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/ws');
            const conn = document.getElementById('conn');
            const label = document.getElementById('conn-label');

            ws.onopen = () => {
                conn.classList.add('live');
                label.textContent = 'live';
            };

            ws.onmessage = (msg) => {
                try {
                    addEvent(JSON.parse(msg.data));
                } catch (err) {
                    console.error('bad event:', err);
                }
            };

            ws.onclose = () => {
                conn.classList.remove('live');
                label.textContent = 'reconnecting';
                setTimeout(connect, 3000);
            };
        }

        connect();
        loadStats();
        setInterval(loadStats, 5000);
    </script>
</body>
</html>`

// dashboardHandler serves the live verification dashboard
func dashboardHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, dashboardHTML)
}
