package scene

import (
	_ "embed"
	"fmt"
	"image"
	"image/color"
	"log"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/colornames"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/phinze/knobdeck/internal/power"
)

//go:embed icons/play.svg
var iconPlaySVG string

//go:embed icons/pause.svg
var iconPauseSVG string

//go:embed icons/volume.svg
var iconVolumeSVG string

// Colors
var (
	colorBackground = color.RGBA{18, 18, 18, 255}
	colorArtEmpty   = color.RGBA{40, 40, 48, 255}
	colorControl    = colornames.White
	colorPressed    = colornames.Lightgray
	colorMuted      = color.RGBA{150, 150, 150, 255}
	colorAccent     = colornames.Mediumseagreen
	colorTrack      = color.RGBA{60, 60, 60, 255}
)

const (
	buttonSize = 72
	iconSize   = 40
)

type view struct {
	state   power.State
	playing bool
	volume  int
	title   string
	art     image.Image
	pressed bool
}

func (s *Scene) initFonts() error {
	ttBold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return fmt.Errorf("parse bold font: %w", err)
	}
	s.titleFace, err = opentype.NewFace(ttBold, &opentype.FaceOptions{
		Size:    22,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("create title face: %w", err)
	}

	ttRegular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return fmt.Errorf("parse regular font: %w", err)
	}
	s.labelFace, err = opentype.NewFace(ttRegular, &opentype.FaceOptions{
		Size:    16,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("create label face: %w", err)
	}
	return nil
}

// buttonRect is the play/pause hit area, centred on the screen.
func (s *Scene) buttonRect() image.Rectangle {
	c := s.size.Div(2)
	half := buttonSize / 2
	return image.Rect(c.X-half, c.Y-half, c.X+half, c.Y+half)
}

func (s *Scene) draw(v view) {
	b := s.canvas.Bounds()
	draw.Draw(s.canvas, b, &image.Uniform{colorBackground}, image.Point{}, draw.Src)

	if v.state == power.Immersive {
		// Art only, edge to edge.
		s.drawArt(b, v.art)
		return
	}

	// Art sits behind the controls, inset and dimmed by the overlay.
	inset := b.Inset(b.Dx() / 6)
	s.drawArt(inset, v.art)
	draw.Draw(s.canvas, inset, &image.Uniform{color.RGBA{0, 0, 0, 140}}, image.Point{}, draw.Over)

	btn := s.buttonRect()
	col := colorControl
	if v.pressed {
		col = colorPressed
	}
	icon := iconPlaySVG
	if v.playing {
		icon = iconPauseSVG
	}
	iconImg := renderSVGIcon(icon, iconSize, col)
	at := btn.Min.Add(image.Pt((buttonSize-iconSize)/2, (buttonSize-iconSize)/2))
	draw.Draw(s.canvas, iconImg.Bounds().Add(at), iconImg, image.Point{}, draw.Over)

	s.drawTextCentered(truncate(v.title, 22), b.Dx()/2, inset.Max.Y+28, s.titleFace, colorControl)
	s.drawVolume(v.volume, b)
}

func (s *Scene) drawArt(r image.Rectangle, art image.Image) {
	if art == nil {
		draw.Draw(s.canvas, r, &image.Uniform{colorArtEmpty}, image.Point{}, draw.Src)
		return
	}
	draw.CatmullRom.Scale(s.canvas, r, art, art.Bounds(), draw.Src, nil)
}

// drawVolume draws the level bar across the top of the screen.
func (s *Scene) drawVolume(level int, b image.Rectangle) {
	const barHeight = 6
	y := b.Dy() / 10
	track := image.Rect(b.Dx()/4, y, b.Dx()*3/4, y+barHeight)
	draw.Draw(s.canvas, track, &image.Uniform{colorTrack}, image.Point{}, draw.Src)

	fill := track
	fill.Max.X = track.Min.X + track.Dx()*level/100
	draw.Draw(s.canvas, fill, &image.Uniform{colorAccent}, image.Point{}, draw.Src)

	icon := renderSVGIcon(iconVolumeSVG, 16, colorMuted)
	at := image.Pt(track.Min.X-22, y-5)
	draw.Draw(s.canvas, icon.Bounds().Add(at), icon, image.Point{}, draw.Over)

	s.drawText(fmt.Sprintf("%d%%", level), track.Max.X+8, y+barHeight+4, s.labelFace, colorMuted)
}

// renderSVGIcon renders an SVG string to an image with the given size and color.
func renderSVGIcon(svgContent string, size int, iconColor color.Color) image.Image {
	r, g, b, _ := iconColor.RGBA()
	hexColor := fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
	svgContent = strings.ReplaceAll(svgContent, "currentColor", hexColor)

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	icon, err := oksvg.ReadIconStream(strings.NewReader(svgContent))
	if err != nil {
		log.Printf("scene: parse svg: %v", err)
		return img
	}

	icon.SetTarget(0, 0, float64(size), float64(size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)
	return img
}

func (s *Scene) drawText(text string, x, y int, face font.Face, col color.Color) {
	d := &font.Drawer{
		Dst:  s.canvas,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func (s *Scene) drawTextCentered(text string, centerX, y int, face font.Face, col color.Color) {
	width := font.MeasureString(face, text).Ceil()
	s.drawText(text, centerX-width/2, y, face, col)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
