package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"duck-ask/internal/chart"
	"duck-ask/internal/domain"

	gomponents "maragu.dev/gomponents"
	data "maragu.dev/gomponents-datastar"
	html "maragu.dev/gomponents/html"
)

const (
	resultPreviewRows = 200
	refreshSeconds    = "2"
	datastarBundle    = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.7/bundles/datastar.js"
)

var chartKinds = []domain.ChartKind{
	domain.ChartKPI, domain.ChartBar, domain.ChartLine, domain.ChartPie, domain.ChartScatter, domain.ChartSingleValueGauge,
}

// page wraps body in the shared layout. refresh makes the browser poll
// while a question is still being worked on.
func page(title string, refresh bool, body ...gomponents.Node) gomponents.Node {
	return html.Doctype(html.HTML(
		html.Lang("en"),
		html.Head(
			html.Meta(html.Charset("utf-8")),
			html.Meta(html.Name("viewport"), html.Content("width=device-width, initial-scale=1")),
			gomponents.If(refresh, html.Meta(gomponents.Attr("http-equiv", "refresh"), html.Content(refreshSeconds))),
			html.TitleEl(gomponents.Text(title+" | Ask")),
			html.Link(html.Rel("icon"), html.Href("data:,")),
			html.StyleEl(gomponents.Raw(stylesheet)),
			html.Script(html.Type("module"), html.Src(datastarBundle)),
		),
		html.Body(
			html.Header(html.Class("top"), html.A(html.Href("/ui"), html.Strong(gomponents.Text("Ask your data")))),
			html.Main(html.Class("layout"), gomponents.Group(body)),
		),
	))
}

func errorPage(title, message string) gomponents.Node {
	return page(title, false,
		html.H1(html.Class("page-title"), gomponents.Text(title)),
		html.P(gomponents.Text(message)),
		html.P(html.A(html.Href("/ui"), gomponents.Text("Back to questions"))),
	)
}

// containsExpr is a datastar expression that shows an element while the
// quick filter $q is empty or matches value.
func containsExpr(value string) string {
	lower := strings.ToLower(value)
	return "$q === '' || " + strconv.Quote(lower) + ".includes($q.toLowerCase())"
}

// quickFilter renders the filter input bound to $q. The filtered rows must
// sit inside a node carrying data.Signals for q.
func quickFilter(placeholder string) gomponents.Node {
	return html.Div(html.Class("quick-filter"),
		html.Label(gomponents.Text("Quick filter")),
		html.Input(html.Type("search"), html.Placeholder(placeholder), data.Bind("q"), html.AutoComplete("off")),
	)
}

func flash(message string) gomponents.Node {
	if message == "" {
		return nil
	}
	return html.Div(html.Class("flash"), gomponents.Text(message))
}

type homeModel struct {
	Text       string
	DataSource string
	Error      string
	Sources    []domain.DataSource
	Recent     []domain.StatusSnapshot
	CSRF       gomponents.Node
}

func homePage(m homeModel) gomponents.Node {
	options := make([]gomponents.Node, 0, len(m.Sources))
	for _, src := range m.Sources {
		options = append(options, html.Option(
			html.Value(src.Name),
			gomponents.If(src.Name == m.DataSource, html.Selected()),
			gomponents.Text(src.Name),
		))
	}

	sourceItems := make([]gomponents.Node, 0, len(m.Sources))
	for _, src := range m.Sources {
		sourceItems = append(sourceItems, html.Li(
			html.Strong(gomponents.Text(src.Name)),
			gomponents.Text(" ("+src.Driver+") "),
			html.Span(html.Class("muted"), gomponents.Text(src.Description)),
		))
	}

	return page("Ask", false,
		html.H1(html.Class("page-title"), gomponents.Text("Ask a question")),
		flash(m.Error),
		html.Form(
			html.Class("card"),
			html.Method("post"),
			html.Action("/ui/queries"),
			m.CSRF,
			html.Label(html.For("text"), gomponents.Text("Question")),
			html.Textarea(html.ID("text"), html.Name("text"), html.Rows("3"), html.Required(),
				html.Placeholder("Total sales by region"), gomponents.Text(m.Text)),
			html.Label(html.For("data_source"), gomponents.Text("Data source")),
			html.Select(html.ID("data_source"), html.Name("data_source"), gomponents.Group(options)),
			html.Button(html.Type("submit"), gomponents.Text("Ask")),
		),
		html.Section(html.Class("card"),
			html.H2(gomponents.Text("Data sources")),
			html.Ul(gomponents.Group(sourceItems)),
		),
		html.Section(html.Class("card"),
			data.Signals(map[string]any{"q": ""}),
			html.H2(gomponents.Text("Recent questions")),
			gomponents.If(len(m.Recent) > 0, quickFilter("Filter by question, source or state")),
			recentTable(m.Recent),
		),
	)
}

func recentTable(recent []domain.StatusSnapshot) gomponents.Node {
	if len(recent) == 0 {
		return html.P(html.Class("muted"), gomponents.Text("No questions yet."))
	}
	rows := make([]gomponents.Node, 0, len(recent))
	for _, snap := range recent {
		rows = append(rows, html.Tr(
			data.Show(containsExpr(snap.RawText+" "+snap.DataSourceRef+" "+string(snap.State))),
			html.Td(html.A(html.Href("/ui/queries/"+snap.RequestID), gomponents.Text(snap.RawText))),
			html.Td(gomponents.Text(snap.DataSourceRef)),
			html.Td(stateBadge(snap.State)),
			html.Td(gomponents.Textf("%d%%", snap.Percent)),
			html.Td(gomponents.Text(formatTime(snap.StartedAt))),
		))
	}
	return html.Table(
		html.THead(html.Tr(
			html.Th(gomponents.Text("Question")),
			html.Th(gomponents.Text("Source")),
			html.Th(gomponents.Text("State")),
			html.Th(gomponents.Text("Progress")),
			html.Th(gomponents.Text("Started")),
		)),
		html.TBody(gomponents.Group(rows)),
	)
}

type detailModel struct {
	Snapshot domain.StatusSnapshot
	Outcome  *domain.QueryOutcome
	Error    string
	CSRF     gomponents.Node
}

func detailPage(m detailModel) gomponents.Node {
	snap := m.Snapshot
	base := "/ui/queries/" + snap.RequestID

	return page(snap.RawText, !snap.State.Terminal() && snap.State != domain.StateAwaitingClarification,
		html.H1(html.Class("page-title"), gomponents.Text(snap.RawText)),
		html.P(html.Class("muted"),
			gomponents.Text("Data source "+snap.DataSourceRef+" · started "+formatTime(snap.StartedAt)+" · "),
			stateBadge(snap.State),
		),
		flash(m.Error),
		html.Div(html.Class("card"),
			html.Progress(html.Value(fmt.Sprint(snap.Percent)), html.Max("100")),
			html.P(gomponents.Textf("%s · %d%%", snap.Stage, snap.Percent)),
			gomponents.If(snap.Error != nil, failureNode(snap.Error)),
			gomponents.If(!snap.State.Terminal(), html.Form(
				html.Method("post"), html.Action(base+"/cancel"), m.CSRF,
				html.Button(html.Type("submit"), html.Class("secondary"), gomponents.Text("Cancel")),
			)),
		),
		gomponents.If(snap.State == domain.StateAwaitingClarification, clarificationNode(snap, base, m.CSRF)),
		outcomeNodes(m.Outcome, base, m.CSRF),
	)
}

func failureNode(perr *domain.PipelineError) gomponents.Node {
	if perr == nil {
		return nil
	}
	return html.Div(html.Class("flash"),
		html.Strong(gomponents.Text(string(perr.Kind))),
		gomponents.Text(": "+perr.Message),
	)
}

func clarificationNode(snap domain.StatusSnapshot, base string, csrf gomponents.Node) gomponents.Node {
	question := ""
	if snap.ClarificationQuestion != nil {
		question = *snap.ClarificationQuestion
	}
	buttons := make([]gomponents.Node, 0, len(snap.Suggestions))
	for _, s := range snap.Suggestions {
		buttons = append(buttons, html.Button(
			html.Type("submit"), html.Name("answer"), html.Value(s), html.Class("suggestion"),
			gomponents.Text(s),
		))
	}
	return html.Section(html.Class("card"),
		html.H2(gomponents.Text(question)),
		gomponents.If(len(buttons) > 0, html.Form(
			html.Method("post"), html.Action(base+"/answer"), csrf,
			gomponents.Group(buttons),
		)),
		html.Form(
			html.Method("post"), html.Action(base+"/answer"), csrf,
			data.Signals(map[string]any{"answer": ""}),
			html.Input(html.Type("text"), html.Name("answer"), html.Placeholder("Or type an answer"), data.Bind("answer")),
			html.Button(html.Type("submit"), data.Show("$answer.trim() !== ''"), gomponents.Text("Answer")),
		),
	)
}

func outcomeNodes(out *domain.QueryOutcome, base string, csrf gomponents.Node) gomponents.Node {
	if out == nil {
		return nil
	}
	return gomponents.Group{
		chartNode(out, base, csrf),
		html.Section(html.Class("card"),
			html.H2(gomponents.Text("Generated query")),
			html.Pre(html.Code(gomponents.Text(out.GeneratedQueryText))),
		),
		resultTable(out.ResultSet),
	}
}

func chartNode(out *domain.QueryOutcome, base string, csrf gomponents.Node) gomponents.Node {
	spec := out.ChartSpec
	kinds := make([]gomponents.Node, 0, len(chartKinds))
	for _, k := range chartKinds {
		kinds = append(kinds, html.Option(
			html.Value(string(k)),
			gomponents.If(k == spec.Kind, html.Selected()),
			gomponents.Text(string(k)),
		))
	}

	var summary gomponents.Node
	switch spec.Kind {
	case domain.ChartKPI, domain.ChartSingleValueGauge:
		label := ""
		if spec.PrimaryLabel != nil {
			label = *spec.PrimaryLabel
		}
		summary = html.Div(html.Class("headline"),
			html.Span(html.Class("value"), gomponents.Text(chart.FormatNumber(spec.PrimaryValue))),
			html.Span(html.Class("muted"), gomponents.Text(label)),
		)
	default:
		summary = seriesBars(out.ResultSet, spec)
	}

	return html.Section(html.Class("card"),
		html.H2(gomponents.Text("Chart: "+string(spec.Kind))),
		summary,
		html.Form(
			html.Method("post"), html.Action(base+"/chart"), csrf,
			html.Select(html.Name("kind"), gomponents.Group(kinds)),
			html.Button(html.Type("submit"), html.Class("secondary"), gomponents.Text("Switch chart")),
		),
	)
}

// seriesBars draws the y values as proportional bars, one per x value.
func seriesBars(rs domain.ResultSet, spec domain.ChartSpec) gomponents.Node {
	if spec.XField == nil || spec.YField == nil {
		return html.P(html.Class("muted"), gomponents.Text("No series to draw."))
	}
	xi, yi := columnIndex(rs.Columns, *spec.XField), columnIndex(rs.Columns, *spec.YField)
	if xi < 0 || yi < 0 {
		return html.P(html.Class("muted"), gomponents.Text("No series to draw."))
	}

	rows := rs.Rows
	if len(rows) > resultPreviewRows {
		rows = rows[:resultPreviewRows]
	}
	values := make([]float64, len(rows))
	peak := 0.0
	for i, row := range rows {
		values[i], _ = chart.ToFloat(row[yi])
		if abs := max(values[i], -values[i]); abs > peak {
			peak = abs
		}
	}

	bars := make([]gomponents.Node, 0, len(rows))
	for i, row := range rows {
		width := 0.0
		if peak > 0 {
			width = 100 * max(values[i], -values[i]) / peak
		}
		bars = append(bars, html.Div(html.Class("bar-row"),
			html.Span(html.Class("bar-label"), gomponents.Text(cellString(row[xi]))),
			html.Span(html.Class("bar"), html.Style(fmt.Sprintf("width:%.1f%%", width))),
			html.Span(html.Class("bar-value"), gomponents.Text(chart.FormatNumber(row[yi]))),
		))
	}
	return html.Div(html.Class("bars"),
		html.P(html.Class("muted"), gomponents.Text(*spec.XField+" by "+*spec.YField)),
		gomponents.Group(bars),
	)
}

func resultTable(rs domain.ResultSet) gomponents.Node {
	header := make([]gomponents.Node, 0, len(rs.Columns))
	for _, c := range rs.Columns {
		header = append(header, html.Th(gomponents.Text(c)))
	}
	shown := rs.Rows
	if len(shown) > resultPreviewRows {
		shown = shown[:resultPreviewRows]
	}
	rows := make([]gomponents.Node, 0, len(shown))
	for _, row := range shown {
		cells := make([]gomponents.Node, 0, len(row))
		for _, v := range row {
			cells = append(cells, html.Td(gomponents.Text(cellString(v))))
		}
		rows = append(rows, html.Tr(data.Show(containsExpr(rowText(row))), gomponents.Group(cells)))
	}

	meta := fmt.Sprintf("%d row(s)", rs.TotalRows)
	if rs.TotalRows > len(shown) {
		meta = fmt.Sprintf("%d row(s), showing first %d", rs.TotalRows, len(shown))
	}
	return html.Section(html.Class("card table-wrap"),
		data.Signals(map[string]any{"q": ""}),
		html.H2(gomponents.Text("Result")),
		html.P(html.Class("muted"), gomponents.Text(meta)),
		gomponents.If(len(shown) > 1, quickFilter("Filter result rows")),
		html.Table(
			html.THead(html.Tr(gomponents.Group(header))),
			html.TBody(gomponents.Group(rows)),
		),
	)
}

func stateBadge(state domain.ExecutionState) gomponents.Node {
	return html.Span(html.Class("badge state-"+strings.ToLower(string(state))), gomponents.Text(string(state)))
}

func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

func cellString(v interface{}) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

func rowText(row []interface{}) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = cellString(v)
	}
	return strings.Join(parts, " ")
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format(time.RFC3339)
}
