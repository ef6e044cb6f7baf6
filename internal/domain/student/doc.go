// Package student содержит доменную модель студента для сниффера IntCopilot.
//
// Пакет определяет:
//
//   - Student — сохранённая запись (ID + имя) в реляционном хранилище
//   - DiscoveredStudent — студент, найденный обходом расписаний одноклассников
//   - FuzzySearchResult — результат нечёткого поиска по имени (pg_trgm)
//   - Store — интерфейс хранилища, реализуемый в infrastructure/persistence
//
// # Идентификаторы
//
// API школы отдаёт studentId числом, а сниффер хранит его строкой
// (ключ множества обнаруженных студентов). Преобразование выполняет
// ParseID; нечисловые или неположительные ID отклоняются.
//
// Пакет не имеет внешних зависимостей.
package student
