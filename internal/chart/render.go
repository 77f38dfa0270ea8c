// Package chart renders an assignment's weight trajectory as a PNG:
// assimilated history as a solid line, the forward projection dotted,
// and scenario thresholds as horizontal rules.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	width   = 800
	height  = 400
	marginL = 64
	marginR = 24
	marginT = 32
	marginB = 44

	plotW = width - marginL - marginR
	plotH = height - marginT - marginB
)

var (
	colBackground = color.RGBA{255, 255, 255, 255}
	colAxis       = color.RGBA{110, 110, 110, 255}
	colGrid       = color.RGBA{232, 232, 232, 255}
	colActual     = color.RGBA{31, 90, 166, 255}
	colProjected  = color.RGBA{122, 160, 210, 255}
	colTransfer   = color.RGBA{214, 138, 28, 255}
	colHarvest    = color.RGBA{52, 140, 70, 255}
	colText       = color.RGBA{64, 64, 64, 255}
)

var ErrNoData = errors.New("no points to plot")

type Point struct {
	Date    time.Time
	WeightG float64
}

type Input struct {
	Title              string
	Actual             []Point
	Projected          []Point
	TransferThresholdG float64
	HarvestThresholdG  float64
}

// Render draws the chart. Thresholds are drawn only when they sit near
// the plotted weights; a harvest rule far above a young batch's curve
// would flatten it to the floor.
func Render(in Input) ([]byte, error) {
	if len(in.Actual) == 0 && len(in.Projected) == 0 {
		return nil, ErrNoData
	}

	minDate, maxDate, maxW := domain(in)
	for _, th := range []float64{in.TransferThresholdG, in.HarvestThresholdG} {
		if th > 0 && th <= maxW*1.5 && th > maxW {
			maxW = th
		}
	}
	maxW *= 1.08

	days := maxDate.Sub(minDate).Hours() / 24
	if days < 1 {
		days = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(colBackground), image.Point{}, draw.Src)

	p := plotArea{img: img, minDate: minDate, days: days, maxW: maxW}

	p.drawGrid()
	p.drawThreshold(in.TransferThresholdG, "transfer", colTransfer)
	p.drawThreshold(in.HarvestThresholdG, "harvest", colHarvest)
	p.drawSeries(in.Actual, colActual, false)
	p.drawSeries(in.Projected, colProjected, true)
	p.drawFrame(in.Title, minDate, maxDate)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func domain(in Input) (minDate, maxDate time.Time, maxW float64) {
	first := true
	scan := func(pts []Point) {
		for _, pt := range pts {
			if first || pt.Date.Before(minDate) {
				minDate = pt.Date
			}
			if first || pt.Date.After(maxDate) {
				maxDate = pt.Date
			}
			if pt.WeightG > maxW {
				maxW = pt.WeightG
			}
			first = false
		}
	}
	scan(in.Actual)
	scan(in.Projected)
	if maxW <= 0 {
		maxW = 1
	}
	return minDate, maxDate, maxW
}

type plotArea struct {
	img     *image.RGBA
	minDate time.Time
	days    float64
	maxW    float64
}

func (p *plotArea) x(t time.Time) int {
	frac := t.Sub(p.minDate).Hours() / 24 / p.days
	return marginL + int(frac*float64(plotW))
}

func (p *plotArea) y(w float64) int {
	frac := w / p.maxW
	if frac > 1 {
		frac = 1
	}
	return marginT + plotH - int(frac*float64(plotH))
}

func (p *plotArea) drawGrid() {
	const ticks = 5
	for i := 0; i <= ticks; i++ {
		w := p.maxW * float64(i) / ticks
		y := p.y(w)
		if i > 0 {
			drawLine(p.img, marginL, y, marginL+plotW, y, colGrid, false)
		}
		drawText(p.img, 6, y+4, weightLabel(w), colText)
	}
}

func (p *plotArea) drawThreshold(th float64, label string, col color.Color) {
	if th <= 0 || th > p.maxW {
		return
	}
	y := p.y(th)
	drawLine(p.img, marginL, y, marginL+plotW, y, col, true)
	drawText(p.img, marginL+4, y-4, label, col)
}

func (p *plotArea) drawSeries(pts []Point, col color.Color, dotted bool) {
	for i := 1; i < len(pts); i++ {
		x0, y0 := p.x(pts[i-1].Date), p.y(pts[i-1].WeightG)
		x1, y1 := p.x(pts[i].Date), p.y(pts[i].WeightG)
		drawLine(p.img, x0, y0, x1, y1, col, dotted)
	}
	if len(pts) == 1 {
		x, y := p.x(pts[0].Date), p.y(pts[0].WeightG)
		drawLine(p.img, x-2, y, x+2, y, col, false)
	}
}

func (p *plotArea) drawFrame(title string, minDate, maxDate time.Time) {
	drawLine(p.img, marginL, marginT, marginL, marginT+plotH, colAxis, false)
	drawLine(p.img, marginL, marginT+plotH, marginL+plotW, marginT+plotH, colAxis, false)

	if title != "" {
		drawText(p.img, marginL, marginT-10, title, colText)
	}
	drawText(p.img, marginL, height-12, minDate.Format("02 Jan 2006"), colText)
	end := maxDate.Format("02 Jan 2006")
	drawText(p.img, marginL+plotW-7*len(end), height-12, end, colText)
}

func weightLabel(w float64) string {
	if w >= 2000 {
		return fmt.Sprintf("%.1fkg", w/1000)
	}
	return fmt.Sprintf("%.0fg", w)
}

// drawLine steps along the segment pixel by pixel, two pixels thick.
// Dotted lines skip alternating four-step runs.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.Color, dotted bool) {
	dx, dy := x1-x0, y1-y0
	steps := max(abs(dx), abs(dy))
	if steps == 0 {
		img.Set(x0, y0, col)
		img.Set(x0, y0+1, col)
		return
	}
	for i := 0; i <= steps; i++ {
		if dotted && (i/4)%2 == 1 {
			continue
		}
		x := x0 + dx*i/steps
		y := y0 + dy*i/steps
		img.Set(x, y, col)
		img.Set(x, y+1, col)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func drawText(img *image.RGBA, x, y int, s string, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
