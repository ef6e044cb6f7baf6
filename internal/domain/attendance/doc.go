// Package attendance содержит доменную модель посещаемости IntSchool.
//
// Пакет определяет:
//
//   - Status — упорядоченный статус посещаемости с приоритетом (важностью)
//   - CourseSession — одно занятие (курс, аудитория, время, статус)
//   - Snapshot — посещаемость за один день: утренняя отметка и список занятий
//   - Report — набор дней, который API возвращает за одно окно опроса
//   - TimeWindow — окно времени [Start, End], вычисляемое из пресета заново при каждом чтении
//
// # Идентичность занятия
//
// Два занятия считаются одним "слотом", если совпадают название курса и время
// начала. Аудитория, статус и время окончания в идентичность не входят:
//
//	prev.SameSlot(cur) // CourseName и Start равны
//
// # Приоритеты
//
// Сравнение "важность выросла/упала" всегда идёт по Priority(), а не по
// порядку значений перечисления:
//
//	Absent(2) > Late(1) > InTime, Illness, Personal, WeekendHoliday(0) > NoRecord(-1)
//
// Пакет не имеет внешних зависимостей, кроме pkg/timeutil.
package attendance
