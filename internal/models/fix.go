package models

import (
	"time"

	"github.com/ctessum/geom"
)

// Fix неизменяемая точка трека: момент времени и координаты в системе
// координат траектории, плюс произвольный набор атрибутов. После
// конструирования Fix не модифицируется; карта атрибутов разделяется
// между производными траекториями как есть.
type Fix struct {
	Timestamp  time.Time              `json:"timestamp"`
	Point      geom.Point             `json:"point"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// NewFix создает новую точку трека
func NewFix(ts time.Time, pt geom.Point, attrs map[string]interface{}) Fix {
	return Fix{
		Timestamp:  ts,
		Point:      pt,
		Attributes: attrs,
	}
}

// Attr возвращает значение атрибута и признак его наличия
func (f Fix) Attr(name string) (interface{}, bool) {
	if f.Attributes == nil {
		return nil, false
	}
	v, ok := f.Attributes[name]
	return v, ok
}

// PointRecord нормализованная входная запись от внешнего загрузчика:
// момент времени, координаты в именованной CRS, значение группирующего
// атрибута и произвольные дополнительные атрибуты. Ядро не разбирает
// файловые форматы, оно принимает уже готовую последовательность записей.
type PointRecord struct {
	Timestamp  time.Time              `json:"timestamp"`
	Point      geom.Point             `json:"point"`
	CRS        string                 `json:"crs"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Fix конвертирует запись в точку трека (CRS переходит на траекторию)
func (r PointRecord) Fix() Fix {
	return Fix{
		Timestamp:  r.Timestamp,
		Point:      r.Point,
		Attributes: r.Attributes,
	}
}
