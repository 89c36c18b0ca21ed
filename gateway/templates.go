package gateway

import "html/template"

// The console pages deliberately stay close to plain HTML: they exist to
// exercise and display the management API, not to be a product UI.
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "layout_head"}}<!DOCTYPE html>
<html><body>
<h1>{{.}}</h1>{{end}}

{{define "layout_foot"}}
</body></html>{{end}}

{{define "request_info"}}
<h2>Request</h2>
<b>Method:</b> <tt>{{.Method}}</tt><br>
<b>Url:</b> <tt>{{.URL}}</tt>{{end}}

{{define "response_info"}}
<h2>Response</h2>
<b>Response http status code</b>: <tt>{{.Status}}</tt><br>
<b>Response data</b>: <tt>{{printf "%s" .Body}}</tt><br>{{end}}

{{define "error"}}{{template "layout_head" "Error"}}
<p>{{.Message}}</p>
<h2>Actions</h2>
<a href="/login">Login</a><br>
<a href="/list">List sites</a>
{{template "layout_foot"}}{{end}}

{{define "success"}}{{template "layout_head" "Authentication"}}
<h2>Actions</h2>
<a href="list">List sites</a>
<h2>Result</h2>
Authentication successful
{{template "layout_foot"}}{{end}}

{{define "sites"}}{{template "layout_head" "List sites"}}
{{template "request_info" .Result}}
<h2>Received sites</h2>
<table>
  <tr>
    <th>Id</th>
    <th>Name</th>
    <th>List points</th>
    <th>List files</th>
    <th>Live status</th>
    <th>Enable protection</th>
    <th>Disable protection</th>
  </tr>
  {{range .Page.Items}}<tr>
    <td>{{.SiteID}}</td>
    <td>{{.Name}}</td>
    <td><a href="points?siteId={{.SiteID}}">List points</a></td>
    <td><a href="files?siteId={{.SiteID}}">List files</a></td>
    <td><a href="status?siteId={{.SiteID}}">Live status</a></td>
    <td><a href="protection?siteId={{.SiteID}}">For protectedFolder/ as companyName</a></td>
    <td><a href="protection?siteId={{.SiteID}}&disable=true">For protectedFolder/</a></td>
  </tr>{{end}}
</table>
<h2>Actions</h2>
{{if .NextPage}}<a href="{{.NextPage}}">Next sites</a><br/>{{end}}
<a href="list">List sites</a>
{{template "response_info" .Result}}
{{template "layout_foot"}}{{end}}

{{define "points"}}{{template "layout_head" .Title}}
{{template "request_info" .Result}}
<h2>Received points</h2>
<b>Count:</b> {{.Count}}<br>
<b>Min sequence id:</b> {{.MinSequenceID}}<br>
<b>Max sequence id:</b> {{.MaxSequenceID}}<br>
<h2>Actions</h2>
{{if .NextPage}}<a href="{{.NextPage}}">Get next page</a><br/>{{end}}
<a href="points?siteId={{.SiteID}}&since=1">Get points since sequenceId 1</a><br/>
<a href="list">List sites</a>
{{template "response_info" .Result}}
{{template "layout_foot"}}{{end}}

{{define "files"}}{{template "layout_head" .Title}}
{{template "request_info" .Result}}
<h2>Received files</h2>
<b>Site version:</b> {{.Page.SiteVersion}}<br>
<b>Count:</b> {{len .Page.Items}}<br>
<b>Total size:</b> {{.TotalSize}}<br>
<table>
  <tr>
    <th>Path</th>
    <th>Type</th>
    <th>Size</th>
    <th>Version</th>
    <th>Timestamp</th>
    <th>Download</th>
    <th>Upload new version</th>
  </tr>
  {{range .Rows}}<tr>
    <td>{{.File.Path}}</td>
    <td>{{.File.Type}}</td>
    <td>{{.File.Size}}</td>
    <td>{{.File.Version}}</td>
    <td>{{.Timestamp}}</td>
    <td><a href="/download?url={{.EncodedURL}}">Download</a></td>
    <td><a href="/presign?siteId={{$.SiteID}}&path={{.File.Path}}">Upload new version</a></td>
  </tr>{{end}}
</table>
<h2>Actions</h2>
{{if .NextPage}}<a href="{{.NextPage}}">Get next page</a><br/>{{end}}
<a href="presign?siteId={{.SiteID}}&path={{.NewPath}}">Upload new file with name {{.NewPath}}</a><br/>
<a href="list">List sites</a>
{{template "response_info" .Result}}
{{template "layout_foot"}}{{end}}

{{define "protection"}}{{template "layout_head" .Title}}
{{template "request_info" .Result}}<br>
<b>Request body:</b> <tt>{{.RequestBody}}</tt>
<h2>Actions</h2>
<a href="list">List sites</a>
{{template "response_info" .Result}}
{{template "layout_foot"}}{{end}}

{{define "download"}}{{template "layout_head" .Title}}
{{template "request_info" .Result}}<br>
<h2>Actions</h2>
<a href="list">List sites</a>
{{template "response_info" .Result}}
{{template "layout_foot"}}{{end}}

{{define "presign"}}{{template "layout_head" .Title}}
{{template "request_info" .Result}}<br>
<h2>Actions</h2>
<a href="upload?siteId={{.SiteID}}&path={{.Path}}&presignRequestId={{.RequestID}}&uploadUrl={{.EncodedURL}}">Upload file with contents <tt>test1 test2</tt></a><br>
<a href="list">List sites</a>
{{template "response_info" .Result}}
{{template "layout_foot"}}{{end}}

{{define "upload"}}{{template "layout_head" .Title}}
{{template "request_info" .Result}}<br>
<b>Request body:</b> <tt>{{.RequestBody}}</tt>
<h2>Actions</h2>
<a href="addfile?siteId={{.SiteID}}&path={{.Path}}&presignRequestId={{.RequestID}}">Add uploaded file to site</a><br>
<a href="list">List sites</a><br>
{{template "response_info" .Result}}
{{template "layout_foot"}}{{end}}

{{define "addfile"}}{{template "layout_head" .Title}}
{{template "request_info" .Result}}<br>
<b>Request body:</b> <tt>{{.RequestBody}}</tt>
<h2>Actions</h2>
<a href="files?siteId={{.SiteID}}">List site files</a><br>
<a href="list">List sites</a><br>
{{template "response_info" .Result}}
{{template "layout_foot"}}{{end}}

{{define "status"}}{{template "layout_head" .Title}}
<p>Subscribed to <tt>{{.Topic}}</tt>. Messages appear below as they arrive.</p>
<h2>Actions</h2>
<a href="list">List sites</a>
<h2>Messages</h2>
<pre id="messages"></pre>
<script>
  const out = document.getElementById("messages");
  const ws = new WebSocket("{{.WebSocketURL}}");
  ws.onmessage = (ev) => { out.textContent += ev.data + "\n"; };
  ws.onclose = () => { out.textContent += "-- relay closed --\n"; };
</script>
{{template "layout_foot"}}{{end}}
`))
