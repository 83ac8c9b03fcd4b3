package models

import "errors"

// Типизированные ошибки ядра. Все операции возвращают их обернутыми
// через fmt.Errorf("%w: ..."), поэтому вызывающий код проверяет вид
// ошибки через errors.Is.
var (
	// ErrEmptyInput ни одна группа не пережила построение и фильтрацию
	ErrEmptyInput = errors.New("empty input")

	// ErrNotFound траектория с указанным идентификатором отсутствует
	ErrNotFound = errors.New("trajectory not found")

	// ErrOutOfRange запрошенное время вне интервала [start_time, end_time]
	ErrOutOfRange = errors.New("time out of range")

	// ErrInvalidPolygon полигон самопересекается или вырожден
	ErrInvalidPolygon = errors.New("invalid polygon")

	// ErrMixedCRS точки с разными системами координат в одной траектории
	ErrMixedCRS = errors.New("mixed CRS")

	// ErrZeroDuration скорость запрошена на паре с нулевой длительностью
	// и ненулевой дистанцией
	ErrZeroDuration = errors.New("zero duration between fixes")

	// ErrEmptyTrajectory результат операции содержит меньше двух точек
	// там, где требуется минимум две
	ErrEmptyTrajectory = errors.New("trajectory has too few fixes")
)
