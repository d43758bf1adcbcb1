package web

import "html/template"

var pageTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>SNMP Trap Data</title>
<style>
body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: black; color: #ddd; }
.container { margin: 0 auto; background-color: #090909; padding: 20px; }
h1 { color: #eee; }
table { width: 100%; border-collapse: collapse; font-size: 13px; }
th, td { border: 1px solid #333; padding: 6px; text-align: left; vertical-align: top; }
th { background-color: #1b1b1b; }
td.hex { font-family: monospace; word-break: break-all; max-width: 420px; }
td.err { color: #e06c6c; }
.styled-button { background-color: #2d6cdf; color: white; border: none; padding: 8px 16px; cursor: pointer; margin-bottom: 12px; }
.styled-button:disabled { background-color: #555; }
</style>
</head>
<body>
<div class="container">
<h1>SNMP Trap Data</h1>
<button id="refreshBtn" class="styled-button">Refresh Data</button>
<table>
<thead>
<tr><th>Date</th><th>Location</th><th>Error</th><th>SNMPv</th><th>Community</th><th>PDU</th><th>Request</th><th>VarBind</th><th>FullHex</th></tr>
</thead>
<tbody id="rows">
{{- if .Error}}
<tr><td colspan="9">Error loading data: {{.Error}}</td></tr>
{{- end}}
{{- range .Rows}}
<tr><td>{{.Date}}</td><td>{{.Location}}</td><td class="err">{{.Error}}</td><td>{{.SNMPv}}</td><td>{{.Community}}</td><td>{{.PDU}}</td><td>{{.Request}}</td><td>{{.VarBind}}</td><td class="hex">{{.FullHex}}</td></tr>
{{- end}}
</tbody>
</table>
</div>
<script>
function cell(text, cls) {
  const td = document.createElement('td');
  if (cls) td.className = cls;
  td.textContent = text;
  return td;
}
document.getElementById('refreshBtn').addEventListener('click', function () {
  const btn = this;
  const label = btn.innerHTML;
  btn.disabled = true;
  btn.innerHTML = 'Loading...';
  fetch('/refresh')
    .then(r => r.json())
    .then(rows => {
      const body = document.getElementById('rows');
      body.replaceChildren();
      rows.forEach(row => {
        const tr = document.createElement('tr');
        tr.append(cell(row.Date), cell(row.Location), cell(row.Error, 'err'), cell(row.SNMPv),
          cell(row.Community), cell(row.PDU), cell(row.Request), cell(row.VarBind), cell(row.FullHex, 'hex'));
        body.appendChild(tr);
      });
    })
    .catch(err => { console.error('Error refreshing data:', err); alert('Failed to refresh data. Please try again.'); })
    .finally(() => { btn.disabled = false; btn.innerHTML = label; });
});
</script>
</body>
</html>
`))

// pageData is the template input for the index page.
type pageData struct {
	Rows  []Row
	Error string
}
