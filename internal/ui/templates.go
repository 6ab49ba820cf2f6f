package ui

import (
	"fmt"
	"html/template"
	"io"
	"strings"
)

// Template functions available in all templates.
var templateFuncs = template.FuncMap{
	"statusColor": func(status string) string {
		switch strings.ToUpper(status) {
		case "QUEUED":
			return "bg-gray-400"
		case "RUNNING":
			return "bg-blue-500"
		case "FINISHED":
			return "bg-green-500"
		case "ERROR":
			return "bg-red-500"
		default:
			return "bg-gray-300"
		}
	},
	// barWidth is the bar length in pixels, five per percent.
	"barWidth": func(progress float64) int {
		return int(progress * 5)
	},
	"percent": func(progress float64) string {
		return fmt.Sprintf("%.0f%%", progress)
	},
}

// renderTemplate renders the named page inside the layout.
func renderTemplate(w io.Writer, name string, data map[string]any) error {
	content, ok := templates[name]
	if !ok {
		return fmt.Errorf("template not found: %s", name)
	}

	tmpl, err := template.New("layout").Funcs(templateFuncs).Parse(templates["layout"])
	if err != nil {
		return fmt.Errorf("parse layout: %w", err)
	}
	if _, err := tmpl.New("content").Parse(content); err != nil {
		return fmt.Errorf("parse content: %w", err)
	}
	return tmpl.Execute(w, data)
}

var templates = map[string]string{
	"layout": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-50 min-h-screen">
    <nav class="bg-white shadow-sm border-b">
        <div class="max-w-5xl mx-auto px-4 flex h-16 items-center">
            <a href="/" class="text-xl font-bold text-indigo-600">Tasker</a>
        </div>
    </nav>
    <main class="max-w-5xl mx-auto py-6 px-4">
        {{template "content" .}}
    </main>
</body>
</html>`,

	"board": `{{define "content"}}
{{if .Error}}
<div class="rounded-md bg-red-50 p-4 mb-4 text-sm text-red-700">{{.Error}}</div>
{{end}}
<form action="/exports" method="POST" class="mb-6">
    <button type="submit" class="px-4 py-2 rounded-md bg-indigo-600 text-white text-sm font-medium hover:bg-indigo-700">
        add exports
    </button>
</form>
<div id="board" class="bg-white shadow rounded-lg divide-y" data-events="{{.EventsURL}}">
    {{range .Entries}}
    <div class="flex items-center justify-between px-4 py-3" data-task="{{.ID}}">
        <span class="w-1/3 text-sm font-medium truncate">{{.Name}}</span>
        <span class="w-16 text-sm text-gray-600" data-field="progress">{{percent .Progress}}</span>
        <span class="w-16 text-sm font-semibold" data-field="place">{{if .Place}}#{{.Place}}{{end}}</span>
        <span class="w-1/3 text-sm text-red-600 truncate" data-field="error">{{.ErrorMessage}}</span>
        <div class="bg-gray-200 rounded h-3" style="width: 500px">
            <div class="h-3 rounded {{statusColor (print .Status)}}" data-field="bar" style="width: {{barWidth .Progress}}px"></div>
        </div>
    </div>
    {{else}}
    <p class="px-4 py-6 text-sm text-gray-500" id="empty">No tasks yet.</p>
    {{end}}
</div>
<script>
(function () {
    var url = document.getElementById("board").dataset.events;
    if (!url) { return; }
    var source = new EventSource(url);
    source.addEventListener("update", function (ev) {
        var entry = JSON.parse(ev.data);
        var row = document.querySelector('[data-task="' + entry.id + '"]');
        if (!row) { window.location.reload(); return; }
        row.querySelector('[data-field="progress"]').textContent = Math.round(entry.progress) + "%";
        row.querySelector('[data-field="place"]').textContent = entry.place ? "#" + entry.place : "";
        row.querySelector('[data-field="error"]').textContent = entry.error_message || "";
        row.querySelector('[data-field="bar"]').style.width = (entry.progress * 5) + "px";
    });
})();
</script>
{{end}}`,
}
