package service

import (
	"comicstrip/internal/entity"
	"strings"

	"github.com/sirupsen/logrus"
)

// PanelSlotCount 版式固定为六格
const PanelSlotCount = 6

const panelHeight = "300px"

// 三列三行网格，按格子顺序排列
var panelGridAreas = [PanelSlotCount]string{
	"1 / 1 / 2 / 3", // 左上大格
	"1 / 3 / 2 / 4", // 右上小格
	"2 / 1 / 3 / 2", // 左中方格
	"2 / 2 / 3 / 4", // 右中大格
	"3 / 1 / 4 / 3", // 左下大格
	"3 / 3 / 4 / 4", // 右下小格
}

// BuildPanels zips image references with descriptions by index. The Panel Set
// has one entry per image; missing descriptions are left empty.
func BuildPanels(images, descriptions []string) []entity.Panel {
	if len(descriptions) != len(images) {
		logrus.WithFields(logrus.Fields{
			"image_count":       len(images),
			"description_count": len(descriptions),
		}).Warn("panel image and description counts differ")
	}

	panels := make([]entity.Panel, 0, len(images))
	for idx, image := range images {
		panel := entity.Panel{ImageURL: strings.TrimSpace(image)}
		if idx < len(descriptions) {
			panel.Description = descriptions[idx]
		}
		panels = append(panels, panel)
	}
	return panels
}

// BuildLayout places panels into the six fixed slots. Slots without a panel
// are returned empty; panels beyond the sixth are not laid out.
func BuildLayout(panels []entity.Panel) []entity.LayoutSlot {
	if len(panels) > PanelSlotCount {
		logrus.WithFields(logrus.Fields{
			"panel_count": len(panels),
			"slot_count":  PanelSlotCount,
		}).Warn("more panels than layout slots, extra panels dropped from layout")
	}

	slots := make([]entity.LayoutSlot, PanelSlotCount)
	for idx := range slots {
		slots[idx] = entity.LayoutSlot{
			Index:    idx,
			GridArea: panelGridAreas[idx],
			Height:   panelHeight,
		}
		if idx < len(panels) {
			panel := panels[idx]
			slots[idx].Panel = &panel
		}
	}
	return slots
}

// PanelImages returns the image references of panels in order.
func PanelImages(panels []entity.Panel) []string {
	out := make([]string, 0, len(panels))
	for _, p := range panels {
		out = append(out, p.ImageURL)
	}
	return out
}

// PanelDescriptions returns the descriptions of panels in order.
func PanelDescriptions(panels []entity.Panel) []string {
	out := make([]string, 0, len(panels))
	for _, p := range panels {
		out = append(out, p.Description)
	}
	return out
}
