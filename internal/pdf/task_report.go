package pdf

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"taskflow/internal/models"
)

// TaskReportData is everything printed on a task report.
type TaskReportData struct {
	Task         *models.Task
	CreatorName  string
	AssigneeName string
	Activity     []models.ActivityEntry
	GeneratedAt  time.Time
}

// TaskReportGenerator renders task cards. Without a TTF font it falls back
// to the built-in Helvetica, which only covers Latin-1.
type TaskReportGenerator struct {
	FontPath string
	fontName string
}

func NewTaskReportGenerator(fontPath string) *TaskReportGenerator {
	name := "Helvetica"
	if fontPath != "" {
		name = "DejaVu"
	}
	return &TaskReportGenerator{FontPath: fontPath, fontName: name}
}

func (g *TaskReportGenerator) Render(data TaskReportData) ([]byte, error) {
	t := data.Task
	if t == nil {
		return nil, fmt.Errorf("render report: no task")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(t.Key()+" "+t.Title, true)
	pdf.SetAuthor("taskflow", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	tr := func(s string) string { return s }
	if g.FontPath != "" {
		pdf.AddUTF8Font(g.fontName, "", g.FontPath)
		pdf.AddUTF8Font(g.fontName, "B", g.FontPath)
	} else {
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	pdf.AddPage()

	// header
	pdf.SetFont(g.fontName, "B", 16)
	pdf.MultiCell(0, 8, tr(t.Key()+"  "+t.Title), "", "L", false)
	pdf.SetFont(g.fontName, "", 9)
	pdf.CellFormat(0, 5, tr("Generated "+data.GeneratedAt.Format("2006-01-02 15:04 MST")), "", 1, "L", false, 0, "")
	g.hr(pdf)

	g.sectionTitle(pdf, tr("Details"))
	g.kvLine(pdf, tr, "Status", string(t.Status))
	g.kvLine(pdf, tr, "Priority", string(t.Priority))
	g.kvLine(pdf, tr, "Type", string(t.Type))
	g.kvLine(pdf, tr, "Creator", orDash(data.CreatorName))
	g.kvLine(pdf, tr, "Assignee", orDash(data.AssigneeName))
	g.kvLine(pdf, tr, "Due", formatTime(t.DueDate, "2006-01-02"))
	g.kvLine(pdf, tr, "Started", formatTime(t.StartedAt, "2006-01-02 15:04"))
	g.kvLine(pdf, tr, "Completed", formatTime(t.CompletedAt, "2006-01-02 15:04"))
	g.kvLine(pdf, tr, "Hours", formatHours(t.EstimatedHours)+" estimated / "+formatHours(t.ActualHours)+" actual")
	if len(t.Tags) > 0 {
		g.kvLine(pdf, tr, "Tags", strings.Join(t.Tags, ", "))
	}
	g.hr(pdf)

	if t.Description != "" {
		g.sectionTitle(pdf, tr("Description"))
		pdf.SetFont(g.fontName, "", 11)
		pdf.MultiCell(0, 6, tr(t.Description), "", "L", false)
		pdf.Ln(2)
	}
	if t.Resolution != nil && *t.Resolution != "" {
		g.sectionTitle(pdf, tr("Resolution"))
		pdf.SetFont(g.fontName, "", 11)
		pdf.MultiCell(0, 6, tr(*t.Resolution), "", "L", false)
		pdf.Ln(2)
	}

	if len(data.Activity) > 0 {
		g.hr(pdf)
		g.sectionTitle(pdf, tr("Recent activity"))
		pdf.SetFont(g.fontName, "", 10)
		for _, e := range data.Activity {
			who := e.Actor.FullName
			if who == "" {
				who = e.Actor.Username
			}
			line := fmt.Sprintf("%s  %s: %s", e.CreatedAt.Format("2006-01-02 15:04"), orDash(who), e.Content)
			pdf.MultiCell(0, 5, tr(line), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report %s: %w", t.Key(), err)
	}
	return buf.Bytes(), nil
}

func (g *TaskReportGenerator) sectionTitle(pdf *gofpdf.Fpdf, s string) {
	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, s, "", 1, "L", false, 0, "")
}

func (g *TaskReportGenerator) kvLine(pdf *gofpdf.Fpdf, tr func(string) string, key, val string) {
	pdf.SetFont(g.fontName, "B", 11)
	pdf.CellFormat(35, 6, tr(key+":"), "", 0, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
	pdf.MultiCell(0, 6, tr(val), "", "L", false)
}

func (g *TaskReportGenerator) hr(pdf *gofpdf.Fpdf) {
	x, y := pdf.GetXY()
	w, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	pdf.Line(left, y+2, w-right, y+2)
	pdf.SetXY(x, y+5)
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return "-"
	}
	return t.Format(layout)
}

func formatHours(h *float64) string {
	if h == nil {
		return "-"
	}
	return strconv.FormatFloat(*h, 'f', -1, 64)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
